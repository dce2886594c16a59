package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Program images
// ---------------------------------------------------------------------------

// A program image is the canonical CBOR encoding of a compiled module:
// the main prototype with its constant pool, nested prototypes and
// class descriptors. Canonical encoding keeps images byte-stable, so
// equal programs hash equally.

const imageVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireImage struct {
	Version    int           `cbor:"1,keyasint"`
	Main       *wireFunction `cbor:"2,keyasint"`
	SourceHash [32]byte      `cbor:"3,keyasint,omitempty"`
}

type wireFunction struct {
	Name      string         `cbor:"1,keyasint"`
	NumParams int            `cbor:"2,keyasint"`
	NumRegs   int            `cbor:"3,keyasint"`
	IsAsync   bool           `cbor:"4,keyasint,omitempty"`
	Code      []uint32       `cbor:"5,keyasint"`
	Consts    []wireConstant `cbor:"6,keyasint,omitempty"`
	Upvals    []wireUpval    `cbor:"7,keyasint,omitempty"`
	Lines     []int32        `cbor:"8,keyasint,omitempty"`
}

type wireConstant struct {
	Kind  uint8         `cbor:"1,keyasint"`
	Int   int64         `cbor:"2,keyasint,omitempty"`
	Float float64       `cbor:"3,keyasint,omitempty"`
	Str   string        `cbor:"4,keyasint,omitempty"`
	Proto *wireFunction `cbor:"5,keyasint,omitempty"`
	Class *wireClass    `cbor:"6,keyasint,omitempty"`
}

type wireUpval struct {
	InParent bool   `cbor:"1,keyasint,omitempty"`
	Index    int    `cbor:"2,keyasint"`
	Name     string `cbor:"3,keyasint,omitempty"`
}

type wireClass struct {
	Name      string       `cbor:"1,keyasint"`
	HasParent bool         `cbor:"2,keyasint,omitempty"`
	Methods   []wireMethod `cbor:"3,keyasint,omitempty"`
}

type wireMethod struct {
	Name  string        `cbor:"1,keyasint"`
	Proto *wireFunction `cbor:"2,keyasint"`
}

// MarshalImage serializes a compiled module to CBOR bytes. SourceHash
// may be zero when the source is not tracked.
func MarshalImage(fn *Function, sourceHash [32]byte) ([]byte, error) {
	img := wireImage{
		Version:    imageVersion,
		Main:       encodeFunction(fn),
		SourceHash: sourceHash,
	}
	return cborEncMode.Marshal(&img)
}

// UnmarshalImage deserializes a program image, validating its
// structure before handing it to the VM.
func UnmarshalImage(data []byte) (*Function, error) {
	var img wireImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("vm: unmarshal image: %w", err)
	}
	if img.Version != imageVersion {
		return nil, fmt.Errorf("vm: unsupported image version %d", img.Version)
	}
	if img.Main == nil {
		return nil, fmt.Errorf("vm: image has no main function")
	}
	return decodeFunction(img.Main)
}

func encodeFunction(fn *Function) *wireFunction {
	w := &wireFunction{
		Name:      fn.Name,
		NumParams: fn.NumParams,
		NumRegs:   fn.NumRegs,
		IsAsync:   fn.IsAsync,
		Code:      make([]uint32, len(fn.Code)),
		Lines:     fn.Lines,
	}
	for i, instr := range fn.Code {
		w.Code[i] = uint32(instr)
	}
	for _, c := range fn.Consts {
		wc := wireConstant{Kind: uint8(c.Kind)}
		switch c.Kind {
		case ConstInt:
			wc.Int = c.Int
		case ConstFloat:
			wc.Float = c.Float
		case ConstString:
			wc.Str = c.Str
		case ConstProto:
			wc.Proto = encodeFunction(c.Proto)
		case ConstClass:
			wc.Class = &wireClass{Name: c.Class.Name, HasParent: c.Class.HasParent}
			for _, m := range c.Class.Methods {
				wc.Class.Methods = append(wc.Class.Methods, wireMethod{
					Name:  m.Name,
					Proto: encodeFunction(m.Proto),
				})
			}
		}
		w.Consts = append(w.Consts, wc)
	}
	for _, u := range fn.Upvals {
		w.Upvals = append(w.Upvals, wireUpval{InParent: u.InParent, Index: u.Index, Name: u.Name})
	}
	return w
}

func decodeFunction(w *wireFunction) (*Function, error) {
	if w.NumRegs < 0 || w.NumRegs > 256 {
		return nil, fmt.Errorf("vm: function %s has bad register count %d", w.Name, w.NumRegs)
	}
	if w.NumParams < 0 || w.NumParams > w.NumRegs {
		return nil, fmt.Errorf("vm: function %s has bad parameter count %d", w.Name, w.NumParams)
	}
	fn := &Function{
		Name:      w.Name,
		NumParams: w.NumParams,
		NumRegs:   w.NumRegs,
		IsAsync:   w.IsAsync,
		Code:      make([]Instr, len(w.Code)),
		Lines:     w.Lines,
	}
	for i, raw := range w.Code {
		instr := Instr(raw)
		if _, ok := opcodeTable[instr.Op()]; !ok {
			return nil, fmt.Errorf("vm: function %s has unknown opcode %#02x at %d", w.Name, byte(instr.Op()), i)
		}
		fn.Code[i] = instr
	}
	for i, wc := range w.Consts {
		c := Constant{Kind: ConstKind(wc.Kind)}
		switch c.Kind {
		case ConstInt:
			c.Int = wc.Int
		case ConstFloat:
			c.Float = wc.Float
		case ConstString:
			c.Str = wc.Str
		case ConstProto:
			if wc.Proto == nil {
				return nil, fmt.Errorf("vm: constant %d of %s has no prototype", i, w.Name)
			}
			proto, err := decodeFunction(wc.Proto)
			if err != nil {
				return nil, err
			}
			c.Proto = proto
		case ConstClass:
			if wc.Class == nil {
				return nil, fmt.Errorf("vm: constant %d of %s has no class descriptor", i, w.Name)
			}
			desc := &ClassDesc{Name: wc.Class.Name, HasParent: wc.Class.HasParent}
			for _, m := range wc.Class.Methods {
				if m.Proto == nil {
					return nil, fmt.Errorf("vm: method %s of %s has no prototype", m.Name, desc.Name)
				}
				proto, err := decodeFunction(m.Proto)
				if err != nil {
					return nil, err
				}
				desc.Methods = append(desc.Methods, MethodDesc{Name: m.Name, Proto: proto})
			}
			c.Class = desc
		default:
			return nil, fmt.Errorf("vm: constant %d of %s has unknown kind %d", i, w.Name, wc.Kind)
		}
		fn.Consts = append(fn.Consts, c)
	}
	for _, u := range w.Upvals {
		fn.Upvals = append(fn.Upvals, UpvalDesc{InParent: u.InParent, Index: u.Index, Name: u.Name})
	}
	return fn, nil
}

package vm

import (
	"bytes"
	"testing"
)

func imageFixture() *Function {
	inner := NewBuilder()
	inner.Emit(MakeABC(OpReturn, 0, 0, 0), 3)
	proto := inner.Build("helper", 1, 2, true, []UpvalDesc{{InParent: true, Index: 0, Name: "x"}})

	method := NewBuilder()
	method.Emit(MakeABC(OpReturnNone, 0, 0, 0), 6)
	speak := method.Build("Dog.speak", 1, 1, false, nil)

	b := NewBuilder()
	b.AddConst(Constant{Kind: ConstInt, Int: 99})
	b.AddConst(Constant{Kind: ConstFloat, Float: 2.5})
	b.AddConst(Constant{Kind: ConstString, Str: "name"})
	b.AddConst(Constant{Kind: ConstProto, Proto: proto})
	b.AddConst(Constant{Kind: ConstClass, Class: &ClassDesc{
		Name:    "Dog",
		Methods: []MethodDesc{{Name: "speak", Proto: speak}},
	}})
	b.Emit(MakeABx(OpLoadConst, 0, 0), 1)
	b.Emit(MakeABx(OpMakeClosure, 1, 3), 1)
	b.Emit(MakeABC(OpReturnNone, 0, 0, 0), 2)
	return b.Build("main", 0, 4, false, nil)
}

func TestImageRoundTrip(t *testing.T) {
	fn := imageFixture()
	hash := [32]byte{1, 2, 3}

	data, err := MarshalImage(fn, hash)
	if err != nil {
		t.Fatalf("MarshalImage: %v", err)
	}
	got, err := UnmarshalImage(data)
	if err != nil {
		t.Fatalf("UnmarshalImage: %v", err)
	}

	if got.Name != "main" || got.NumRegs != 4 || len(got.Code) != 3 {
		t.Errorf("main: name=%q regs=%d code=%d", got.Name, got.NumRegs, len(got.Code))
	}
	if got.Code[1] != fn.Code[1] {
		t.Error("instruction words changed in transit")
	}
	if len(got.Consts) != 5 {
		t.Fatalf("consts = %d, want 5", len(got.Consts))
	}
	proto := got.Consts[3].Proto
	if proto == nil || proto.Name != "helper" || !proto.IsAsync {
		t.Fatal("nested prototype lost")
	}
	if len(proto.Upvals) != 1 || !proto.Upvals[0].InParent || proto.Upvals[0].Name != "x" {
		t.Errorf("upvalues = %+v", proto.Upvals)
	}
	cls := got.Consts[4].Class
	if cls == nil || cls.Name != "Dog" || len(cls.Methods) != 1 {
		t.Fatal("class descriptor lost")
	}
	if cls.Methods[0].Proto == nil || cls.Methods[0].Proto.Name != "Dog.speak" {
		t.Error("method prototype lost")
	}
	if got.Lines[2] != 2 {
		t.Errorf("line table: %v", got.Lines)
	}
}

func TestImageDeterministic(t *testing.T) {
	fn := imageFixture()
	a, err := MarshalImage(fn, [32]byte{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := MarshalImage(fn, [32]byte{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two encodings of the same function differ")
	}
}

func TestImageRejectsCorrupt(t *testing.T) {
	fn := imageFixture()
	data, err := MarshalImage(fn, [32]byte{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := UnmarshalImage([]byte("not cbor")); err == nil {
		t.Error("garbage bytes accepted")
	}

	// A truncated but otherwise valid encoding must be rejected too.
	if _, err := UnmarshalImage(data[:len(data)/2]); err == nil {
		t.Error("truncated image accepted")
	}

	// A valid CBOR map with the wrong version must be rejected.
	img := wireImage{Version: 99, Main: encodeFunction(fn)}
	bad, _ := cborEncMode.Marshal(&img)
	if _, err := UnmarshalImage(bad); err == nil {
		t.Error("future image version accepted")
	}

	// Missing main function.
	img = wireImage{Version: imageVersion}
	bad, _ = cborEncMode.Marshal(&img)
	if _, err := UnmarshalImage(bad); err == nil {
		t.Error("image without a main function accepted")
	}
}

func TestImageRejectsBadBytecode(t *testing.T) {
	b := NewBuilder()
	b.Emit(Instr(0xff), 1) // no such opcode
	fn := b.Build("main", 0, 1, false, nil)

	data, err := MarshalImage(fn, [32]byte{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalImage(data); err == nil {
		t.Error("unknown opcode accepted")
	}
}

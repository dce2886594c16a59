package vm

// ---------------------------------------------------------------------------
// Builtin globals
// ---------------------------------------------------------------------------

// installBuiltins binds the builtin functions every program sees.
func (vm *VM) installBuiltins() {
	vm.RegisterNative("len", builtinLen)
	vm.RegisterNative("range", builtinRange)
	vm.RegisterNative("str", builtinStr)
	vm.RegisterNative("type", builtinType)
	vm.RegisterNative("append", builtinAppend)
	vm.RegisterNative("keys", builtinKeys)
}

func argCount(name string, args []Value, want int) error {
	if len(args) != want {
		return runtimeErr(ErrTypeMismatch, "%s expects %d arguments, got %d", name, want, len(args))
	}
	return nil
}

func builtinLen(ctx *NativeCtx, args []Value) (Value, error) {
	if err := argCount("len", args, 1); err != nil {
		return None, err
	}
	h := ctx.Heap()
	if s, ok := h.GetString(args[0]); ok {
		return NewInt(int64(len(s.Val))), nil
	}
	if l, ok := h.GetList(args[0]); ok {
		return NewInt(int64(len(l.Items))), nil
	}
	if d, ok := h.GetDict(args[0]); ok {
		return NewInt(int64(d.Len())), nil
	}
	if r, ok := h.GetRange(args[0]); ok {
		return NewInt(r.Len()), nil
	}
	return None, runtimeErr(ErrTypeMismatch, "len: %s has no length", ctx.TypeName(args[0]))
}

// builtinRange accepts range(stop), range(start, stop) and
// range(start, stop, step).
func builtinRange(ctx *NativeCtx, args []Value) (Value, error) {
	if len(args) < 1 || len(args) > 3 {
		return None, runtimeErr(ErrTypeMismatch, "range expects 1 to 3 arguments, got %d", len(args))
	}
	nums := make([]int64, len(args))
	for i, a := range args {
		if !a.IsInt() {
			return None, runtimeErr(ErrTypeMismatch,
				"range: argument %d must be an int, got %s", i+1, ctx.TypeName(a))
		}
		nums[i] = a.AsInt()
	}
	r := &RangeObject{Start: 0, Step: 1}
	switch len(nums) {
	case 1:
		r.Stop = nums[0]
	case 2:
		r.Start, r.Stop = nums[0], nums[1]
	case 3:
		r.Start, r.Stop, r.Step = nums[0], nums[1], nums[2]
		if r.Step == 0 {
			return None, runtimeErr(ErrTypeMismatch, "range: step must not be zero")
		}
	}
	return ctx.Pin(ctx.Heap().Alloc(r)), nil
}

func builtinStr(ctx *NativeCtx, args []Value) (Value, error) {
	if err := argCount("str", args, 1); err != nil {
		return None, err
	}
	return ctx.NewString(ctx.Render(args[0])), nil
}

func builtinType(ctx *NativeCtx, args []Value) (Value, error) {
	if err := argCount("type", args, 1); err != nil {
		return None, err
	}
	return ctx.NewString(ctx.TypeName(args[0])), nil
}

func builtinAppend(ctx *NativeCtx, args []Value) (Value, error) {
	if err := argCount("append", args, 2); err != nil {
		return None, err
	}
	l, ok := ctx.Heap().GetList(args[0])
	if !ok {
		return None, runtimeErr(ErrTypeMismatch, "append: %s is not a list", ctx.TypeName(args[0]))
	}
	l.Items = append(l.Items, args[1])
	return args[0], nil
}

// builtinKeys returns a dict's keys as a list, in insertion order.
func builtinKeys(ctx *NativeCtx, args []Value) (Value, error) {
	if err := argCount("keys", args, 1); err != nil {
		return None, err
	}
	d, ok := ctx.Heap().GetDict(args[0])
	if !ok {
		return None, runtimeErr(ErrTypeMismatch, "keys: %s is not a dict", ctx.TypeName(args[0]))
	}
	items := make([]Value, 0, d.Len())
	for _, e := range d.Entries() {
		items = append(items, e.Key)
	}
	return ctx.NewList(items), nil
}

package gravitas

import (
	"math"

	"github.com/sirupsen/logrus"
)

// VM is the stack machine: an operand stack, a call stack, a heap, and
// a single dispatch loop. State is owned exclusively by one VM
// instance — there is no shared mutable state between a VM and the
// Generator/Parser that produced its Program.
type VM struct {
	operands operandStack
	calls    callStack
	heap     *Heap
	program  *Program
	interns  *InternTable
	cfg      *Config
	log      *logrus.Logger
}

func NewVM(program *Program, interns *InternTable, cfg *Config) *VM {
	log := logrus.New()
	if debug, err := cfg.GetBool("vm.debug"); err == nil && debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return &VM{
		heap:    NewHeap(),
		program: program,
		interns: interns,
		cfg:     cfg,
		log:     log,
	}
}

// Run drives the dispatch loop to completion, returning the top of
// the operand stack as the program's result once main returns.
func Run(program *Program, interns *InternTable, cfg *Config) (Value, error) {
	vm := NewVM(program, interns, cfg)
	main := program.Globals[program.Main].Function
	vm.calls.push(CallFrame{Chunk: main.Chunk, StackBase: 0, Ip: 0, CallerIp: -1})

	for {
		done, err := vm.Tick()
		if err != nil {
			return Value{}, err
		}
		if done {
			break
		}
	}
	if vm.operands.len() == 0 {
		return NullValue(), nil
	}
	return vm.operands.top(), nil
}

// Tick executes exactly one opcode, so a host embedding the VM can
// bound execution (step limits, cooperative scheduling) without
// touching the dispatch loop itself.
func (vm *VM) Tick() (bool, error) {
	frame := vm.calls.top()
	if frame.Ip >= len(frame.Chunk.Opcodes) {
		if vm.calls.len() == 1 {
			return true, nil
		}
		return false, RuntimeError{Kind: "popped-from-empty-stack", Detail: "chunk exhausted without Return"}
	}

	op := frame.Chunk.Opcodes[frame.Ip]
	vm.log.Debugf("ip=%d op=%v arg=%d stack=%d", frame.Ip, op.Op, op.Arg, vm.operands.len())

	switch op.Op {
	case OpConstant:
		v, err := vm.constantValue(frame.Chunk.Constants[op.Arg])
		if err != nil {
			return false, err
		}
		vm.operands.push(v)
	case OpNot:
		v, err := vm.popBool()
		if err != nil {
			return false, err
		}
		vm.operands.push(BoolValue(!v))
	case OpNeg:
		v, err := vm.popNumber()
		if err != nil {
			return false, err
		}
		vm.operands.push(NumberValue(-v))
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpPow:
		if err := vm.arith(op.Op); err != nil {
			return false, err
		}
	case OpEq, OpNe:
		if err := vm.eqCompare(op.Op); err != nil {
			return false, err
		}
	case OpLt, OpLe, OpGt, OpGe:
		if err := vm.ordCompare(op.Op); err != nil {
			return false, err
		}
	case OpOr, OpAnd:
		if err := vm.boolCombine(op.Op); err != nil {
			return false, err
		}
	case OpJif:
		b, err := vm.popBool()
		if err != nil {
			return false, err
		}
		if !b {
			target := frame.Ip + op.Arg
			if target < 0 {
				return false, RuntimeError{Kind: "stack-overflow", Detail: "jump target before chunk start"}
			}
			frame.Ip = target
			return false, nil
		}
	case OpJp:
		target := frame.Ip + op.Arg
		if target < 0 {
			return false, RuntimeError{Kind: "stack-overflow", Detail: "jump target before chunk start"}
		}
		frame.Ip = target
		return false, nil
	case OpPop:
		for i := 0; i < op.Arg; i++ {
			if _, ok := vm.operands.pop(); !ok {
				return false, RuntimeError{Kind: "popped-from-empty-stack"}
			}
		}
	case OpBlock:
		top, ok := vm.operands.pop()
		if !ok {
			return false, RuntimeError{Kind: "popped-from-empty-stack"}
		}
		if vm.operands.len() < op.Arg {
			return false, RuntimeError{Kind: "popped-from-empty-stack"}
		}
		vm.operands.truncate(vm.operands.len() - op.Arg)
		vm.operands.push(top)
	case OpBreak:
		frame.Ip += op.Arg
		return false, nil
	case OpGet:
		addrVal, ok := vm.operands.pop()
		if !ok {
			return false, RuntimeError{Kind: "popped-from-empty-stack"}
		}
		if addrVal.Kind != ValAddress {
			return false, RuntimeError{Kind: "mismatched-types", Detail: "Get expects an address"}
		}
		v, err := vm.getAddress(frame, addrVal.Addr)
		if err != nil {
			return false, err
		}
		vm.operands.push(v)
	case OpAsg:
		v, ok := vm.operands.pop()
		if !ok {
			return false, RuntimeError{Kind: "popped-from-empty-stack"}
		}
		addrVal, ok := vm.operands.pop()
		if !ok {
			return false, RuntimeError{Kind: "popped-from-empty-stack"}
		}
		if addrVal.Kind != ValAddress {
			return false, RuntimeError{Kind: "mismatched-types", Detail: "Asg expects an address"}
		}
		if err := vm.setAddress(frame, addrVal.Addr, v); err != nil {
			return false, err
		}
		vm.operands.push(v)
	case OpCall:
		return vm.opCall(op.Arg)
	case OpReturn:
		return vm.opReturn()
	case OpNull:
		vm.operands.push(NullValue())
	case OpCreateClosure:
		if err := vm.opCreateClosure(op.Arg); err != nil {
			return false, err
		}
	case OpGetProperty:
		if err := vm.opGetProperty(); err != nil {
			return false, err
		}
	case OpSetProperty:
		if err := vm.opSetProperty(); err != nil {
			return false, err
		}
	case OpGetIndex:
		if err := vm.opGetIndex(); err != nil {
			return false, err
		}
	case OpSetIndex:
		if err := vm.opSetIndex(); err != nil {
			return false, err
		}
	case OpThis:
		if !frame.HasReceiver {
			return false, RuntimeError{Kind: "used-outside-class"}
		}
		vm.operands.push(HeapValue(frame.Receiver))
	case OpGetSuperMethod:
		if err := vm.opGetSuperMethod(frame, op.Arg); err != nil {
			return false, err
		}
	case OpMakeArray:
		vm.opMakeArray(op.Arg)
	}

	frame.Ip++
	return false, nil
}

func (vm *VM) constantValue(c Constant) (Value, error) {
	switch c.Kind {
	case ConstNumber:
		return NumberValue(c.Number), nil
	case ConstString:
		return StringValue(c.Text), nil
	case ConstBool:
		return BoolValue(c.Bool), nil
	case ConstAddress:
		return AddressValue(c.Addr), nil
	case ConstGlobal:
		return GlobalValue(c.Global), nil
	}
	return Value{}, RuntimeError{Kind: "mismatched-types", Detail: "unknown constant kind"}
}

func (vm *VM) popBool() (bool, error) {
	v, ok := vm.operands.pop()
	if !ok {
		return false, RuntimeError{Kind: "popped-from-empty-stack"}
	}
	if v.Kind != ValBool {
		return false, RuntimeError{Kind: "expected-bool"}
	}
	return v.Bool, nil
}

func (vm *VM) popNumber() (float64, error) {
	v, ok := vm.operands.pop()
	if !ok {
		return 0, RuntimeError{Kind: "popped-from-empty-stack"}
	}
	if v.Kind != ValNumber {
		return 0, RuntimeError{Kind: "expected-number"}
	}
	return v.Number, nil
}

// arith implements Add/Sub/Mul/Div/Mod/Pow: …,a,b → …,a∘b with IEEE
// 754 semantics (Neg(MAX)=MIN and vice versa, Div(0,0)=NaN,
// Add(MAX,MAX)=+Inf — all free consequences of using Go float64
// arithmetic directly rather than hand-rolled checks).
func (vm *VM) arith(op OpKind) error {
	b, err := vm.popNumber()
	if err != nil {
		return err
	}
	a, err := vm.popNumber()
	if err != nil {
		return err
	}
	var r float64
	switch op {
	case OpAdd:
		r = a + b
	case OpSub:
		r = a - b
	case OpMul:
		r = a * b
	case OpDiv:
		r = a / b
	case OpMod:
		r = math.Mod(a, b)
	case OpPow:
		r = math.Pow(a, b)
	}
	vm.operands.push(NumberValue(r))
	return nil
}

func (vm *VM) eqCompare(op OpKind) error {
	b, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	a, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	if !sameType(a, b) {
		return RuntimeError{Kind: "mismatched-types"}
	}
	eq := valuesEqual(a, b)
	if op == OpNe {
		eq = !eq
	}
	vm.operands.push(BoolValue(eq))
	return nil
}

func (vm *VM) ordCompare(op OpKind) error {
	b, err := vm.popNumber()
	if err != nil {
		return err
	}
	a, err := vm.popNumber()
	if err != nil {
		return err
	}
	var r bool
	switch op {
	case OpLt:
		r = a < b
	case OpLe:
		r = a <= b
	case OpGt:
		r = a > b
	case OpGe:
		r = a >= b
	}
	vm.operands.push(BoolValue(r))
	return nil
}

func (vm *VM) boolCombine(op OpKind) error {
	b, err := vm.popBool()
	if err != nil {
		return err
	}
	a, err := vm.popBool()
	if err != nil {
		return err
	}
	var r bool
	if op == OpOr {
		r = a || b
	} else {
		r = a && b
	}
	vm.operands.push(BoolValue(r))
	return nil
}

// getAddress implements the VM's address access rules.
func (vm *VM) getAddress(frame *CallFrame, addr MemoryAddress) (Value, error) {
	switch addr.Kind {
	case AddrLocal:
		idx := frame.StackBase + addr.Idx
		if idx < 0 || idx >= vm.operands.len() {
			return Value{}, RuntimeError{Kind: "expected-usize", Detail: "local slot out of range"}
		}
		v := vm.operands[idx]
		if v.Kind == ValCell {
			return vm.heap.Cell(v.Heap).Value, nil
		}
		return v, nil
	case AddrUpvalue:
		if !frame.HasClosure {
			return Value{}, RuntimeError{Kind: "expected-usize", Detail: "no enclosing closure"}
		}
		cl := vm.heap.Closure(frame.ClosurePtr)
		cellPtr := cl.Upvalues[addr.Idx]
		return vm.heap.Cell(cellPtr).Value, nil
	case AddrGlobal:
		return GlobalValue(addr.Idx), nil
	}
	return Value{}, RuntimeError{Kind: "mismatched-types", Detail: "unknown address kind"}
}

func (vm *VM) setAddress(frame *CallFrame, addr MemoryAddress, val Value) error {
	switch addr.Kind {
	case AddrLocal:
		idx := frame.StackBase + addr.Idx
		if idx < 0 || idx >= vm.operands.len() {
			return RuntimeError{Kind: "expected-usize", Detail: "local slot out of range"}
		}
		if vm.operands[idx].Kind == ValCell {
			vm.heap.Cell(vm.operands[idx].Heap).Value = val
			return nil
		}
		vm.operands[idx] = val
		return nil
	case AddrUpvalue:
		if !frame.HasClosure {
			return RuntimeError{Kind: "expected-usize", Detail: "no enclosing closure"}
		}
		cl := vm.heap.Closure(frame.ClosurePtr)
		cellPtr := cl.Upvalues[addr.Idx]
		vm.heap.Cell(cellPtr).Value = val
		return nil
	case AddrGlobal:
		return RuntimeError{Kind: "mismatched-types", Detail: "cannot assign to a global function or class"}
	}
	return RuntimeError{Kind: "mismatched-types", Detail: "unknown address kind"}
}

// opCreateClosure implements closure creation: pop k upvalue
// descriptors then the function pointer, allocate a Closure, and for
// each local-backed descriptor convert the enclosing frame's slot
// into a shared Cell in place.
func (vm *VM) opCreateClosure(k int) error {
	descAddrs := make([]MemoryAddress, k)
	for i := k - 1; i >= 0; i-- {
		v, ok := vm.operands.pop()
		if !ok {
			return RuntimeError{Kind: "popped-from-empty-stack"}
		}
		descAddrs[i] = v.Addr
	}
	fnVal, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}

	frame := vm.calls.top()
	upvalues := make([]HeapPointer, k)
	for i, a := range descAddrs {
		switch a.Kind {
		case AddrLocal:
			idx := frame.StackBase + a.Idx
			if vm.operands[idx].Kind == ValCell {
				upvalues[i] = vm.operands[idx].Heap
				continue
			}
			cellPtr := vm.heap.allocCell(vm.operands[idx])
			vm.operands[idx] = Value{Kind: ValCell, Heap: cellPtr}
			upvalues[i] = cellPtr
		case AddrUpvalue:
			cl := vm.heap.Closure(frame.ClosurePtr)
			upvalues[i] = cl.Upvalues[a.Idx]
		}
	}

	closurePtr := vm.heap.allocClosure(&Closure{FunctionPtr: fnVal.Global, Upvalues: upvalues})
	vm.operands.push(HeapValue(closurePtr))
	return nil
}

// opCall implements the VM's calling convention.
func (vm *VM) opCall(argCount int) (bool, error) {
	callee, ok := vm.operands.pop()
	if !ok {
		return false, RuntimeError{Kind: "popped-from-empty-stack"}
	}
	switch callee.Kind {
	case ValGlobal:
		item := vm.program.Globals[callee.Global]
		if item.IsNative {
			return vm.callNative(item.Native, argCount)
		}
		if item.IsClass {
			return vm.callClass(callee.Global, argCount)
		}
		return vm.pushCallFrame(callee.Global, 0, false, 0, false, false, argCount)
	case ValHeap:
		switch vm.heap.KindOf(callee.Heap) {
		case HeapClosure:
			cl := vm.heap.Closure(callee.Heap)
			return vm.pushCallFrame(cl.FunctionPtr, callee.Heap, true, 0, false, false, argCount)
		case HeapBoundMethod:
			bm := vm.heap.BoundMethod(callee.Heap)
			return vm.pushCallFrame(bm.MethodPtr, 0, false, bm.Receiver, true, false, argCount)
		default:
			return false, RuntimeError{Kind: "not-callable"}
		}
	default:
		return false, RuntimeError{Kind: "not-callable"}
	}
}

func (vm *VM) pushCallFrame(fnPtr int, closurePtr HeapPointer, hasClosure bool, receiver HeapPointer, hasReceiver, isConstructor bool, argCount int) (bool, error) {
	item := vm.program.Globals[fnPtr]
	fn := item.Function
	if fn == nil {
		return false, RuntimeError{Kind: "not-callable"}
	}
	if fn.Arity != argCount {
		return false, RuntimeError{Kind: "arity-mismatch"}
	}
	if vm.operands.len() < argCount {
		return false, RuntimeError{Kind: "popped-from-empty-stack"}
	}
	maxDepth, err := vm.cfg.GetInt("vm.max_call_depth")
	if err != nil {
		return false, RuntimeError{Kind: "mismatched-types", Detail: err.Error()}
	}
	if vm.calls.len() >= maxDepth {
		return false, RuntimeError{Kind: "stack-overflow"}
	}
	stackBase := vm.operands.len() - argCount
	callerIp := vm.calls.top().Ip + 1
	vm.calls.push(CallFrame{
		Chunk:         fn.Chunk,
		StackBase:     stackBase,
		Ip:            0,
		ClosurePtr:    closurePtr,
		HasClosure:    hasClosure,
		Receiver:      receiver,
		HasReceiver:   hasReceiver,
		IsConstructor: isConstructor,
		CallerIp:      callerIp,
	})
	return false, nil
}

func (vm *VM) callClass(classGlobalPtr int, argCount int) (bool, error) {
	class := vm.program.Globals[classGlobalPtr].Class
	objPtr := vm.heap.allocObject(&Object{ClassPtr: classGlobalPtr, Properties: map[Symbol]Value{}})
	if class.Constructor < 0 {
		if argCount != 0 {
			return false, RuntimeError{Kind: "arity-mismatch"}
		}
		vm.operands.push(HeapValue(objPtr))
		frame := vm.calls.top()
		frame.Ip++
		return false, nil
	}
	return vm.pushCallFrame(class.Constructor, 0, false, objPtr, true, true, argCount)
}

func (vm *VM) callNative(name string, argCount int) (bool, error) {
	if vm.operands.len() < argCount {
		return false, RuntimeError{Kind: "popped-from-empty-stack"}
	}
	args := make([]Value, argCount)
	copy(args, vm.operands[vm.operands.len()-argCount:])
	vm.operands.truncate(vm.operands.len() - argCount)

	result, err := callBuiltin(name, args, vm.interns)
	if err != nil {
		return false, err
	}
	vm.operands.push(result)
	frame := vm.calls.top()
	frame.Ip++
	return false, nil
}

func (vm *VM) opReturn() (bool, error) {
	retVal, ok := vm.operands.pop()
	if !ok {
		return false, RuntimeError{Kind: "popped-from-empty-stack"}
	}
	done := vm.calls.pop()
	vm.operands.truncate(done.StackBase)
	if done.IsConstructor {
		vm.operands.push(HeapValue(done.Receiver))
	} else {
		vm.operands.push(retVal)
	}
	if vm.calls.len() == 0 {
		return true, nil
	}
	top := vm.calls.top()
	top.Ip = done.CallerIp
	return false, nil
}

func (vm *VM) opGetProperty() error {
	nameVal, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	target, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	if target.Kind != ValHeap || vm.heap.KindOf(target.Heap) != HeapInstance {
		return RuntimeError{Kind: "mismatched-types", Detail: "property access on non-object"}
	}
	obj := vm.heap.Object(target.Heap)
	if v, ok := obj.Properties[nameVal.Text]; ok {
		vm.operands.push(v)
		return nil
	}
	if methodPtr, ok := vm.findMethod(obj.ClassPtr, nameVal.Text); ok {
		bound := vm.heap.allocBoundMethod(&BoundMethod{Receiver: target.Heap, MethodPtr: methodPtr})
		vm.operands.push(HeapValue(bound))
		return nil
	}
	return RuntimeError{Kind: "undefined-property", Detail: vm.interns.Text(nameVal.Text)}
}

func (vm *VM) opSetProperty() error {
	val, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	nameVal, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	target, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	if target.Kind != ValHeap || vm.heap.KindOf(target.Heap) != HeapInstance {
		return RuntimeError{Kind: "mismatched-types", Detail: "property assignment on non-object"}
	}
	obj := vm.heap.Object(target.Heap)
	obj.Properties[nameVal.Text] = val
	vm.operands.push(val)
	return nil
}

func (vm *VM) opGetIndex() error {
	pos, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	target, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	if target.Kind != ValHeap || vm.heap.KindOf(target.Heap) != HeapArray {
		return RuntimeError{Kind: "mismatched-types", Detail: "index access on non-array"}
	}
	if pos.Kind != ValNumber {
		return RuntimeError{Kind: "expected-usize"}
	}
	arr := vm.heap.Array(target.Heap)
	i := int(pos.Number)
	if i < 0 || i >= len(arr.Values) {
		return RuntimeError{Kind: "expected-usize", Detail: "array index out of range"}
	}
	vm.operands.push(arr.Values[i])
	return nil
}

func (vm *VM) opSetIndex() error {
	val, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	pos, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	target, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	if target.Kind != ValHeap || vm.heap.KindOf(target.Heap) != HeapArray {
		return RuntimeError{Kind: "mismatched-types", Detail: "index assignment on non-array"}
	}
	if pos.Kind != ValNumber {
		return RuntimeError{Kind: "expected-usize"}
	}
	arr := vm.heap.Array(target.Heap)
	i := int(pos.Number)
	if i < 0 || i >= len(arr.Values) {
		return RuntimeError{Kind: "expected-usize", Detail: "array index out of range"}
	}
	arr.Values[i] = val
	vm.operands.push(val)
	return nil
}

func (vm *VM) opGetSuperMethod(frame *CallFrame, superGlobalPtr int) error {
	nameVal, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	thisVal, ok := vm.operands.pop()
	if !ok {
		return RuntimeError{Kind: "popped-from-empty-stack"}
	}
	methodPtr, ok := vm.findMethod(superGlobalPtr, nameVal.Text)
	if !ok {
		return RuntimeError{Kind: "undefined-property", Detail: vm.interns.Text(nameVal.Text)}
	}
	bound := vm.heap.allocBoundMethod(&BoundMethod{Receiver: thisVal.Heap, MethodPtr: methodPtr})
	vm.operands.push(HeapValue(bound))
	return nil
}

// findMethod walks the class chain starting at classGlobalPtr looking
// for a method named name. super.m binds statically to the nearest
// superclass's method by that name.
func (vm *VM) findMethod(classGlobalPtr int, name Symbol) (int, bool) {
	ptr := classGlobalPtr
	for ptr >= 0 {
		class := vm.program.Globals[ptr].Class
		for _, m := range class.Methods {
			if vm.program.Globals[m].Function.Name == name {
				return m, true
			}
		}
		ptr = class.Super
	}
	return 0, false
}

func (vm *VM) opMakeArray(n int) {
	values := make([]Value, n)
	if n > 0 {
		copy(values, vm.operands[vm.operands.len()-n:])
		vm.operands.truncate(vm.operands.len() - n)
	}
	ptr := vm.heap.allocArray(&Array{Values: values})
	vm.operands.push(HeapValue(ptr))
}

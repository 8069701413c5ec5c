package gravitas

import "github.com/hashicorp/go-multierror"

// Generator lowers an Ast into a Program, driving a Resolver to turn
// identifiers into addresses and patch handles into resolved jump
// displacements. One Generator is used per Generate() call and
// discarded afterwards.
type Generator struct {
	interns   *InternTable
	res       *Resolver
	globals   []GlobalItem
	globalIdx map[Symbol]int // builtins (clock, print) by name
	errs      *multierror.Error
}

// Generate lowers ast into a Program. Errors accumulate (go-multierror,
// mirroring the parser's accumulation discipline) and are returned
// together if the pass as a whole fails.
func Generate(ast *Ast, interns *InternTable) (*Program, error) {
	g := &Generator{
		interns:   interns,
		globalIdx: map[Symbol]int{},
		errs:      newErrorList(),
	}
	g.registerNative("clock")
	g.registerNative("print")

	g.res = NewResolver()
	g.res.enterScope(ScopeGlobal, 0)

	main := &Chunk{}
	g.predeclareTopLevel(ast.Stmts)
	g.genTopLevel(main, ast.Stmts)
	g.res.leaveScope()

	mainName := g.interns.Intern("main")
	mainIdx := len(g.globals)
	g.globals = append(g.globals, GlobalItem{Function: &Function{Name: mainName, Arity: 0, Chunk: main}})

	if err := g.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &Program{Globals: g.globals, Main: mainIdx}, nil
}

func (g *Generator) fail(err error) {
	g.errs = appendError(g.errs, err)
}

func (g *Generator) registerNative(name string) {
	sym := g.interns.Intern(name)
	idx := len(g.globals)
	g.globals = append(g.globals, GlobalItem{IsNative: true, Native: name})
	g.globalIdx[sym] = idx
}

// predeclareTopLevel reserves a Variable + global slot for every
// top-level fn/class declaration before any statement body is
// compiled, so sibling top-level declarations can reference each
// other regardless of source order.
func (g *Generator) predeclareTopLevel(stmts []Stmt) {
	for _, s := range stmts {
		switch v := s.(type) {
		case *FunctionDeclarationStmt:
			g.res.declare(v.Name)
			idx := len(g.globals)
			g.globals = append(g.globals, GlobalItem{})
			g.res.markGlobal(v.Name, idx)
		case *ClassDeclarationStmt:
			g.res.declare(v.Name)
			idx := len(g.globals)
			g.globals = append(g.globals, GlobalItem{})
			g.res.markGlobal(v.Name, idx)
		}
	}
}

// resolveAddress is the final lookup step: fall back to the builtin
// table, else UndeclaredIdentifier. Predeclared functions and classes
// are found by the resolver itself.
func (g *Generator) resolveAddress(name Symbol, span Range) MemoryAddress {
	addr, outcome := g.res.resolve(name)
	switch outcome {
	case resolveOK:
		return addr
	case resolveUninitialized:
		g.fail(GenerationError{Kind: "used-before-initialization", Name: g.interns.Text(name), Span: span})
		return MemoryAddress{Kind: AddrGlobal, Idx: 0}
	}
	if idx, ok := g.globalIdx[name]; ok {
		return MemoryAddress{Kind: AddrGlobal, Idx: idx}
	}
	g.fail(GenerationError{Kind: "undeclared-identifier", Name: g.interns.Text(name), Span: span})
	return MemoryAddress{Kind: AddrGlobal, Idx: 0}
}

func (g *Generator) pushAddrConstant(chunk *Chunk, addr MemoryAddress) {
	idx := chunk.addConstant(Constant{Kind: ConstAddress, Addr: addr})
	chunk.emit(OpConstant, idx)
}

// genTopLevel lowers the program's top-level statements into main's
// chunk. It treats the statement list the same way genBlockInto
// treats a block's body: if the final statement is an expression
// statement, its value is left on the stack as the program's result
// instead of being popped, so a bare trailing expression yields a
// usable result without a separate top-level return convention.
func (g *Generator) genTopLevel(chunk *Chunk, stmts []Stmt) {
	if len(stmts) == 0 {
		chunk.emit(OpNull, 0)
		return
	}
	for _, s := range stmts[:len(stmts)-1] {
		g.genStmt(chunk, s)
	}
	last := stmts[len(stmts)-1]
	if expr, ok := last.(*ExpressionStmt); ok {
		g.genExpr(chunk, expr.Expr, false)
		return
	}
	g.genStmt(chunk, last)
	chunk.emit(OpNull, 0)
}

// genStmt lowers one Stmt.
func (g *Generator) genStmt(chunk *Chunk, s Stmt) {
	switch v := s.(type) {
	case *ExpressionStmt:
		g.genExpr(chunk, v.Expr, false)
		chunk.emit(OpPop, 1)
	case *VariableDeclarationStmt:
		g.res.declareUninitialized(v.Name)
		g.genExpr(chunk, v.Expr, false)
		g.res.markInitialized(v.Name)
	case *FunctionDeclarationStmt:
		g.genFunctionDecl(chunk, v)
	case *ClassDeclarationStmt:
		g.genClassDecl(chunk, v)
	}
}

// genFunctionDecl implements function-declaration lowering: compile
// into a fresh chunk/Function scope, register it as a global, then in
// the enclosing chunk emit the CreateClosure sequence that
// materializes it as a value in the declared local slot.
func (g *Generator) genFunctionDecl(chunk *Chunk, decl *FunctionDeclarationStmt) {
	globalIdx, alreadyDeclared := g.lookupPredeclared(decl.Name)
	if !alreadyDeclared {
		g.res.declare(decl.Name)
		globalIdx = len(g.globals)
		g.globals = append(g.globals, GlobalItem{})
		g.res.markGlobal(decl.Name, globalIdx)
	}

	fn, upvalues := g.compileFunction(decl.Name, decl.Params, decl.Body)
	g.globals[globalIdx] = GlobalItem{Function: fn}
	g.emitCreateClosure(chunk, globalIdx, upvalues)
}

// lookupPredeclared reports whether decl's name already has a global
// slot reserved by predeclareTopLevel.
func (g *Generator) lookupPredeclared(name Symbol) (int, bool) {
	s := g.res.current()
	for i := len(s.Variables) - 1; i >= 0; i-- {
		if s.Variables[i].Name == name && s.Variables[i].GlobalPtr >= 0 {
			return s.Variables[i].GlobalPtr, true
		}
	}
	return 0, false
}

// compileFunction compiles params+body into a new Chunk under a fresh
// Function scope and returns it along with the upvalue descriptors the
// body ended up capturing from its enclosing scopes.
func (g *Generator) compileFunction(name Symbol, params []Symbol, body Expr) (*Function, []UpvalueDescriptor) {
	fnChunk := &Chunk{}
	scope := g.res.enterScope(ScopeFunction, 0)
	for _, p := range params {
		g.res.declare(p)
	}
	g.genFunctionBody(fnChunk, body)
	g.res.leaveScope()
	return &Function{Name: name, Arity: len(params), Chunk: fnChunk}, scope.Upvalues
}

// genFunctionBody lowers a function's body: if it's a block, its
// trailing value becomes the implicit return; a bare expression form
// (`=> expr`) generates the expression and emits an explicit Return.
func (g *Generator) genFunctionBody(chunk *Chunk, body Expr) {
	if blk, ok := body.(*BlockExpr); ok {
		g.genBlockInto(chunk, blk)
		chunk.emit(OpReturn, 0)
		return
	}
	g.genExpr(chunk, body, false)
	chunk.emit(OpReturn, 0)
}

// emitCreateClosure emits, in the enclosing chunk, the constant(s) +
// CreateClosure sequence: the function's global pointer, one constant
// per captured upvalue descriptor (evaluated in the enclosing frame),
// then CreateClosure.
func (g *Generator) emitCreateClosure(chunk *Chunk, globalIdx int, upvalues []UpvalueDescriptor) {
	gIdx := chunk.addConstant(Constant{Kind: ConstGlobal, Global: globalIdx})
	chunk.emit(OpConstant, gIdx)
	for _, uv := range upvalues {
		var addr MemoryAddress
		if uv.IsLocal {
			addr = MemoryAddress{Kind: AddrLocal, Idx: uv.Index}
		} else {
			addr = MemoryAddress{Kind: AddrUpvalue, Idx: uv.Index}
		}
		g.pushAddrConstant(chunk, addr)
	}
	chunk.emit(OpCreateClosure, len(upvalues))
}

// genClassDecl implements class-declaration lowering.
func (g *Generator) genClassDecl(chunk *Chunk, decl *ClassDeclarationStmt) {
	globalIdx, alreadyDeclared := g.lookupPredeclared(decl.Name)
	if !alreadyDeclared {
		g.res.declare(decl.Name)
		globalIdx = len(g.globals)
		g.globals = append(g.globals, GlobalItem{})
		g.res.markGlobal(decl.Name, globalIdx)
	}

	superGlobal := -1
	if decl.HasSuper {
		if decl.Super == decl.Name {
			g.fail(GenerationError{Kind: "cant-inherit-from-itself", Name: g.interns.Text(decl.Name), Span: decl.Span})
		} else if idx, ok := g.lookupGlobalByName(decl.Super); ok {
			superGlobal = idx
		} else {
			g.fail(GenerationError{Kind: "superclass-doesnt-exist", Name: g.interns.Text(decl.Super), Span: decl.Span})
		}
	}

	classScope := g.res.enterScope(ScopeClass, len(chunk.Opcodes))
	classScope.SuperGlobal = superGlobal
	// Declared in the class scope (slotless, see declareWith) and
	// global-backed so method bodies resolve the class name to its
	// canonical global entry instead of attempting cell capture.
	g.res.declare(decl.Name)
	g.res.markGlobal(decl.Name, globalIdx)

	methodPtrs := make([]int, 0, len(decl.Methods))
	constructorPtr := -1
	initSym := g.interns.Intern("init")
	for _, m := range decl.Methods {
		mIdx := len(g.globals)
		g.globals = append(g.globals, GlobalItem{})
		fn, upvalues := g.compileFunction(m.Name, m.Params, m.Body)
		if len(upvalues) > 0 {
			// Methods run through BoundMethod{Receiver, MethodPtr} with
			// no closure attached, so an upvalue resolved here would
			// dereference a closure the call frame doesn't have.
			// Rejected outright rather than compiled into a runtime
			// crash; state a method needs beyond its parameters travels
			// on the receiver or through globals.
			g.fail(GenerationError{Kind: "method-captures-enclosing-local", Name: g.interns.Text(m.Name), Span: m.Span})
		}
		g.globals[mIdx] = GlobalItem{Function: fn}
		methodPtrs = append(methodPtrs, mIdx)
		if m.Name == initSym {
			constructorPtr = mIdx
		}
	}
	g.res.leaveScope()

	g.globals[globalIdx] = GlobalItem{
		IsClass: true,
		Class: &Class{
			Name:        decl.Name,
			Super:       superGlobal,
			Constructor: constructorPtr,
			Methods:     methodPtrs,
		},
	}

	gIdx := chunk.addConstant(Constant{Kind: ConstGlobal, Global: globalIdx})
	chunk.emit(OpConstant, gIdx)
}

// lookupGlobalByName finds a name already known to be a global
// (function or class) by scanning the current scope's Variables and
// the builtin table, without performing upvalue promotion.
func (g *Generator) lookupGlobalByName(name Symbol) (int, bool) {
	for i := len(g.res.scopes) - 1; i >= 0; i-- {
		for _, v := range g.res.scopes[i].Variables {
			if v.Name == name && v.GlobalPtr >= 0 {
				return v.GlobalPtr, true
			}
		}
	}
	if idx, ok := g.globalIdx[name]; ok {
		return idx, true
	}
	return 0, false
}

// genBlockInto lowers a Block{stmts, trailing_expr?} in place: enter a
// block scope, generate statements, generate the trailing value (or
// Null), then emit Block(n) for the declared locals.
func (g *Generator) genBlockInto(chunk *Chunk, b *BlockExpr) {
	scope := g.res.enterScope(ScopeBlock, len(chunk.Opcodes))
	for _, st := range b.Stmts {
		g.genStmt(chunk, st)
	}
	if b.Trailing != nil {
		g.genExpr(chunk, b.Trailing, false)
	} else {
		chunk.emit(OpNull, 0)
	}
	n := len(scope.Variables)
	g.res.leaveScope()
	g.res.releaseSlots(n)
	chunk.emit(OpBlock, n)
}

// genExpr lowers one Expr. asRef suppresses the trailing Get that
// would otherwise follow an identifier/property/index reference, used
// when the node is the left side of an Assignment.
func (g *Generator) genExpr(chunk *Chunk, e Expr, asRef bool) {
	switch v := e.(type) {
	case *AtomExpr:
		g.genAtom(chunk, v, asRef)
	case *BinaryExpr:
		g.genExpr(chunk, v.Lhs, false)
		g.genExpr(chunk, v.Rhs, false)
		chunk.emit(binaryOpcode(v.Op), 0)
	case *UnaryExpr:
		g.genExpr(chunk, v.Rhs, false)
		if v.Op == UNot {
			chunk.emit(OpNot, 0)
		} else {
			chunk.emit(OpNeg, 0)
		}
	case *IfExpr:
		g.genIf(chunk, v)
	case *WhileExpr:
		g.genWhile(chunk, v)
	case *BlockExpr:
		g.genBlockInto(chunk, v)
	case *BreakExpr:
		g.genBreak(chunk, v)
	case *ContinueExpr:
		g.genContinue(chunk, v)
	case *CallExpr:
		g.genCall(chunk, v)
	case *ReturnExpr:
		if v.Value != nil {
			g.genExpr(chunk, v.Value, false)
		} else {
			chunk.emit(OpNull, 0)
		}
		chunk.emit(OpReturn, 0)
	case *ArrayExpr:
		for _, el := range v.Values {
			g.genExpr(chunk, el, false)
		}
		chunk.emit(OpMakeArray, len(v.Values))
	case *IndexExpr:
		g.genExpr(chunk, v.Target, false)
		g.genExpr(chunk, v.Pos, false)
		if asRef {
			return // caller (Assignment) emits value + OpSetIndex
		}
		chunk.emit(OpGetIndex, 0)
	case *PropertyExpr:
		g.genExpr(chunk, v.Target, false)
		nameIdx := chunk.addConstant(Constant{Kind: ConstString, Text: v.Path})
		chunk.emit(OpConstant, nameIdx)
		if asRef {
			return
		}
		chunk.emit(OpGetProperty, 0)
	case *AssignmentExpr:
		g.genAssignment(chunk, v)
	case *ClosureExpr:
		fn, upvalues := g.compileFunction(-1, v.Params, v.Body)
		idx := len(g.globals)
		g.globals = append(g.globals, GlobalItem{Function: fn})
		g.emitCreateClosure(chunk, idx, upvalues)
	case *SuperExpr:
		g.genSuper(chunk, v)
	case *ThisExpr:
		if g.res.currentClassScope() == nil {
			g.fail(GenerationError{Kind: "used-outside-class", Span: v.Span})
		}
		chunk.emit(OpThis, 0)
	}
}

func binaryOpcode(op BinaryOp) OpKind {
	switch op {
	case BAdd:
		return OpAdd
	case BSub:
		return OpSub
	case BMul:
		return OpMul
	case BDiv:
		return OpDiv
	case BMod:
		return OpMod
	case BPow:
		return OpPow
	case BEq:
		return OpEq
	case BNe:
		return OpNe
	case BLt:
		return OpLt
	case BLe:
		return OpLe
	case BGt:
		return OpGt
	case BGe:
		return OpGe
	case BOr:
		return OpOr
	case BAnd:
		return OpAnd
	}
	panic("gravitas: unknown binary operator")
}

func (g *Generator) genAtom(chunk *Chunk, a *AtomExpr, asRef bool) {
	switch a.Value.Kind {
	case AtomBoolean:
		idx := chunk.addConstant(Constant{Kind: ConstBool, Bool: a.Value.Bool})
		chunk.emit(OpConstant, idx)
	case AtomNumber:
		idx := chunk.addConstant(Constant{Kind: ConstNumber, Number: a.Value.Number})
		chunk.emit(OpConstant, idx)
	case AtomText:
		idx := chunk.addConstant(Constant{Kind: ConstString, Text: a.Value.Text})
		chunk.emit(OpConstant, idx)
	case AtomNull:
		chunk.emit(OpNull, 0)
	case AtomIdentifier:
		addr := g.resolveAddress(a.Value.Ident, a.Span)
		g.pushAddrConstant(chunk, addr)
		if !asRef {
			chunk.emit(OpGet, 0)
		}
	}
}

// genIf implements: cond; JIF p1; then; JP p2; patch(p1); else?;
// patch(p2) — with an implicit Null standing in for a missing else so
// every If always produces a value.
func (g *Generator) genIf(chunk *Chunk, v *IfExpr) {
	g.genExpr(chunk, v.Cond, false)
	jif := g.res.emitPatch(chunk, OpJif)
	g.genExpr(chunk, v.Then, false)
	jp := g.res.emitPatch(chunk, OpJp)
	jif.patch()
	if v.Else != nil {
		g.genExpr(chunk, v.Else, false)
	} else {
		chunk.emit(OpNull, 0)
	}
	jp.patch()
}

// genWhile implements While lowering: a loop-owned Block scope, a
// backward Jp to the condition, and Break patches resolved to just
// past the trailing Null loop-value placeholder.
func (g *Generator) genWhile(chunk *Chunk, v *WhileExpr) {
	scope := g.res.enterScope(ScopeBlock, len(chunk.Opcodes))
	scope.IsLoop = true
	start := len(chunk.Opcodes)
	scope.LoopStart = start

	g.genExpr(chunk, v.Cond, false)
	jif := g.res.emitPatch(chunk, OpJif)
	g.genExpr(chunk, v.Body, false)
	chunk.emit(OpPop, 1) // body is itself a Block producing a value we discard each iteration
	chunk.emit(OpJp, start-len(chunk.Opcodes))
	jif.patch()
	chunk.emit(OpNull, 0)

	n := len(scope.Variables)
	patches := scope.takePatches()
	g.res.leaveScope()
	g.res.releaseSlots(n)
	for _, p := range patches {
		p.patch()
	}
	if n > 0 {
		chunk.emit(OpBlock, n)
	}
}

func (g *Generator) genBreak(chunk *Chunk, v *BreakExpr) {
	if v.Value != nil {
		g.genExpr(chunk, v.Value, false)
	} else {
		chunk.emit(OpNull, 0)
	}
	if _, ok := g.res.emitBreakPatch(chunk, OpBreak); !ok {
		g.fail(GenerationError{Kind: "used-outside-loop", Span: v.Span})
	}
}

func (g *Generator) genContinue(chunk *Chunk, v *ContinueExpr) {
	loop := g.res.currentLoopScope()
	if loop == nil {
		g.fail(GenerationError{Kind: "used-outside-loop", Span: v.Span})
		return
	}
	chunk.emit(OpJp, loop.LoopStart-len(chunk.Opcodes))
}

// genCall implements Call lowering: arguments left to right, then the
// callee, then Call(argc). Method calls take the same path; their
// callee (`target.name` or `super.name`) already evaluates to a
// BoundMethod carrying the receiver.
func (g *Generator) genCall(chunk *Chunk, v *CallExpr) {
	for _, a := range v.Args {
		g.genExpr(chunk, a, false)
	}
	g.genExpr(chunk, v.Callee, false)
	chunk.emit(OpCall, len(v.Args))
}

func (g *Generator) genSuper(chunk *Chunk, v *SuperExpr) {
	classScope := g.res.currentClassScope()
	if classScope == nil {
		g.fail(GenerationError{Kind: "used-outside-class", Span: v.Span})
		return
	}
	chunk.emit(OpThis, 0)
	nameIdx := chunk.addConstant(Constant{Kind: ConstString, Text: v.Method})
	chunk.emit(OpConstant, nameIdx)
	chunk.emit(OpGetSuperMethod, classScope.SuperGlobal)
}

// genAssignment implements: generate target as reference (suppress
// Get), then value, then Asg (or the Set* variant for properties and
// indices, which the program model needs since those aren't plain
// MemoryAddresses).
func (g *Generator) genAssignment(chunk *Chunk, v *AssignmentExpr) {
	switch t := v.Target.(type) {
	case *AtomExpr:
		if t.Value.Kind != AtomIdentifier {
			g.fail(GenerationError{Kind: "undeclared-identifier", Span: v.Span})
			return
		}
		g.genExpr(chunk, t, true)
		g.genExpr(chunk, v.Value, false)
		chunk.emit(OpAsg, 0)
	case *PropertyExpr:
		g.genExpr(chunk, t, true)
		g.genExpr(chunk, v.Value, false)
		chunk.emit(OpSetProperty, 0)
	case *IndexExpr:
		g.genExpr(chunk, t, true)
		g.genExpr(chunk, v.Value, false)
		chunk.emit(OpSetIndex, 0)
	default:
		g.fail(GenerationError{Kind: "undeclared-identifier", Span: v.Span})
	}
}

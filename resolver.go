package gravitas

// ScopeKind tags the four flavors of scope: a function scope resets
// the stack-offset calculation to 0, a block scope continues its
// enclosing frame's offset, a class scope holds only declarations (no
// runtime slots), and Global is the outermost implicit function.
type ScopeKind int

const (
	ScopeGlobal ScopeKind = iota
	ScopeFunction
	ScopeBlock
	ScopeClass
)

// Variable is a declared name's resolver-private bookkeeping.
type Variable struct {
	Name        Symbol
	Depth       int
	SlotIndex   int
	Closed      bool // at least one inner closure captures this variable
	Initialized bool // false between a let's declaration and the end of its initializer
	GlobalPtr   int  // >=0 for function/class declarations; -1 for plain let/params
}

// UpvalueDescriptor records one step of upvalue capture: IsLocal true
// means "capture the enclosing frame's local slot", false means
// "forward the enclosing closure's own upvalue at this index" — see
// resolve()'s walk below.
type UpvalueDescriptor struct {
	IsLocal bool
	Index   int // local slot when IsLocal, outer upvalue index otherwise
}

// PatchHandle names a jump opcode whose target displacement is not
// yet known, per the "emit-then-patch" idiom used throughout
// generation.
type PatchHandle struct {
	ChunkRef *Chunk
	Index    int
}

// Scope is the resolver-private unit of nesting: one per function,
// block, or class currently open during generation.
type Scope struct {
	Kind            ScopeKind
	Depth           int
	Variables       []Variable
	Upvalues        []UpvalueDescriptor
	Patches         []PatchHandle
	StartOpcodeIdx  int
	StackOffset     int // next free slot index within this function frame
	LoopStart       int // opcode index the innermost enclosing loop's Continue jumps back to; -1 outside any loop
	IsLoop          bool
	SuperGlobal     int // superclass's global pointer; meaningful only for ScopeClass, -1 when none
}

// Resolver holds the open scope stack during generation. It never
// outlives a single generate() call: the generator constructs one,
// drives it through enter/leave as it walks the Ast, and discards it.
type Resolver struct {
	scopes []*Scope
}

func NewResolver() *Resolver {
	return &Resolver{}
}

func (r *Resolver) current() *Scope {
	return r.scopes[len(r.scopes)-1]
}

// currentFunctionScope returns the nearest enclosing Function or
// Global scope, i.e. the frame that owns the stack-offset counter.
func (r *Resolver) currentFunctionScope() *Scope {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if r.scopes[i].Kind == ScopeFunction || r.scopes[i].Kind == ScopeGlobal {
			return r.scopes[i]
		}
	}
	return nil
}

func (r *Resolver) enterScope(kind ScopeKind, startOpcodeIdx int) *Scope {
	depth := 0
	if len(r.scopes) > 0 {
		depth = r.current().Depth + 1
	}
	s := &Scope{Kind: kind, Depth: depth, StartOpcodeIdx: startOpcodeIdx, LoopStart: -1, SuperGlobal: -1}
	if kind == ScopeBlock && len(r.scopes) > 0 {
		// Blocks continue the enclosing function frame's offset.
		fn := r.currentFunctionScope()
		if fn != nil {
			s.StackOffset = fn.StackOffset
		}
	}
	if len(r.scopes) > 0 {
		s.LoopStart = r.current().LoopStart
	}
	r.scopes = append(r.scopes, s)
	return s
}

// leaveScope pops and returns the current scope so the generator can
// resolve any lingering patches (e.g. break targets) against it. For a
// block scope the caller also gives back the block's slots via
// releaseSlots once it knows the declared count.
func (r *Resolver) leaveScope() *Scope {
	s := r.current()
	r.scopes = r.scopes[:len(r.scopes)-1]
	return s
}

// declare records a new Variable in the current scope at the next
// free slot of the enclosing function frame.
func (r *Resolver) declare(name Symbol) Variable {
	return r.declareWith(name, true)
}

// declareUninitialized is declare for `let` bindings: the name exists
// (its slot is reserved) but resolving it before markInitialized runs
// is a UsedBeforeInitialization error, so `let x = x;` is rejected at
// generation time instead of reading a garbage slot at runtime.
func (r *Resolver) declareUninitialized(name Symbol) Variable {
	return r.declareWith(name, false)
}

func (r *Resolver) declareWith(name Symbol, initialized bool) Variable {
	s := r.current()
	slot := 0
	if s.Kind != ScopeClass {
		// Class scopes hold only declarations, never runtime slots: a
		// name declared there (the class itself, for method
		// self-reference) must not bump the enclosing frame's offset,
		// or every local declared after the class would be addressed
		// one slot past its real stack position.
		if fn := r.currentFunctionScope(); fn != nil {
			slot = fn.StackOffset
			fn.StackOffset++
		}
	}
	v := Variable{Name: name, Depth: s.Depth, SlotIndex: slot, Initialized: initialized, GlobalPtr: -1}
	s.Variables = append(s.Variables, v)
	return v
}

// markInitialized flips the most recent declaration of name in the
// current scope to initialized, once its initializer has been fully
// generated.
func (r *Resolver) markInitialized(name Symbol) {
	s := r.current()
	for i := len(s.Variables) - 1; i >= 0; i-- {
		if s.Variables[i].Name == name {
			s.Variables[i].Initialized = true
			return
		}
	}
}

// markGlobal records that the most recently declared variable named
// name in the current scope also has a canonical entry in the
// program's global table at globalPtr. Self- and forward-references
// that cross a function boundary resolve to that global entry instead
// of going through upvalue-cell capture (see resolve()); same-frame
// references still use the ordinary Local slot, since that slot holds
// the specific closure instance produced for this declaration (which
// may differ per invocation when the function captures upvalues).
func (r *Resolver) markGlobal(name Symbol, globalPtr int) {
	s := r.current()
	for i := len(s.Variables) - 1; i >= 0; i-- {
		if s.Variables[i].Name == name {
			s.Variables[i].GlobalPtr = globalPtr
			return
		}
	}
}

// releaseSlots gives back n stack slots to the enclosing function
// frame's offset counter when a block scope closes.
func (r *Resolver) releaseSlots(n int) {
	fn := r.currentFunctionScope()
	if fn != nil {
		fn.StackOffset -= n
	}
}

// resolveOutcome distinguishes "found", "not found" (the generator
// falls back to its global table), and "found, but its initializer
// hasn't finished yet" — the UsedBeforeInitialization case.
type resolveOutcome int

const (
	resolveMissing resolveOutcome = iota
	resolveOK
	resolveUninitialized
)

// resolve implements the first two steps of name lookup: current
// scope's locals, then an outward walk promoting captured variables
// to upvalues. The third step (global fallback) is the generator's
// responsibility, since only it knows the global table.
func (r *Resolver) resolve(name Symbol) (MemoryAddress, resolveOutcome) {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		s := r.scopes[i]
		for j := len(s.Variables) - 1; j >= 0; j-- {
			v := &s.Variables[j]
			if v.Name != name {
				continue
			}
			if i == len(r.scopes)-1 || !r.crossesFunctionBoundary(i) {
				// Same function frame as the resolve site: plain local.
				// The addressing mode never changes even if some inner
				// closure has captured this variable — CreateClosure
				// converts the slot's *value* into a cell in place, and
				// the VM's Local accessor transparently derefs it.
				if !v.Initialized {
					return MemoryAddress{}, resolveUninitialized
				}
				return MemoryAddress{Kind: AddrLocal, Idx: v.SlotIndex}, resolveOK
			}
			if v.GlobalPtr >= 0 {
				// Crossing into a named function/class declaration: use
				// its canonical global entry rather than capturing a
				// cell (sidesteps self-reference before the enclosing
				// CreateClosure has run).
				return MemoryAddress{Kind: AddrGlobal, Idx: v.GlobalPtr}, resolveOK
			}
			// Declared in an enclosing function: promote to upvalue chain.
			idx := r.captureUpvalueChain(i, j)
			return MemoryAddress{Kind: AddrUpvalue, Idx: idx}, resolveOK
		}
	}
	return MemoryAddress{}, resolveMissing
}

// crossesFunctionBoundary reports whether walking from the innermost
// scope out to scope index i passes through at least one Function (or
// Global) scope boundary, i.e. whether a variable declared at i lives
// in a different call frame than the current resolve site.
func (r *Resolver) crossesFunctionBoundary(i int) bool {
	for k := len(r.scopes) - 1; k > i; k-- {
		if r.scopes[k].Kind == ScopeFunction || r.scopes[k].Kind == ScopeGlobal {
			return true
		}
	}
	return false
}

// captureUpvalueChain marks the variable at scopes[declScope][varIdx]
// closed and threads an UpvalueDescriptor chain from the function
// scope immediately inside its declaring frame out to the resolve
// site. The IsLocal=true descriptor is added to the first nested
// function scope, not to the declaring scope itself — the declaring
// frame's own addressing never changes, see resolve()'s same-frame
// branch.
func (r *Resolver) captureUpvalueChain(declScope, varIdx int) int {
	v := &r.scopes[declScope].Variables[varIdx]
	v.Closed = true

	// Find the function scope that owns declScope's frame (the
	// nearest Function/Global at or above declScope).
	ownerFn := declScope
	for r.scopes[ownerFn].Kind != ScopeFunction && r.scopes[ownerFn].Kind != ScopeGlobal {
		ownerFn--
	}

	// First nested function scope strictly inside ownerFn captures
	// directly from the owning frame's local slot.
	firstInner := -1
	for k := ownerFn + 1; k < len(r.scopes); k++ {
		if r.scopes[k].Kind == ScopeFunction {
			firstInner = k
			break
		}
	}

	outerIdx := -1
	for u, d := range r.scopes[firstInner].Upvalues {
		if d.IsLocal && d.Index == v.SlotIndex {
			outerIdx = u
			break
		}
	}
	if outerIdx == -1 {
		r.scopes[firstInner].Upvalues = append(r.scopes[firstInner].Upvalues, UpvalueDescriptor{IsLocal: true, Index: v.SlotIndex})
		outerIdx = len(r.scopes[firstInner].Upvalues) - 1
	}

	// Walk forward from firstInner to the resolve site, adding a
	// forwarding upvalue in every function scope in between.
	for k := firstInner + 1; k < len(r.scopes); k++ {
		if r.scopes[k].Kind != ScopeFunction {
			continue
		}
		found := -1
		for u, d := range r.scopes[k].Upvalues {
			if !d.IsLocal && d.Index == outerIdx {
				found = u
				break
			}
		}
		if found == -1 {
			r.scopes[k].Upvalues = append(r.scopes[k].Upvalues, UpvalueDescriptor{IsLocal: false, Index: outerIdx})
			found = len(r.scopes[k].Upvalues) - 1
		}
		outerIdx = found
	}
	return outerIdx
}

// emitPatch appends a jump opcode with a placeholder displacement of
// 0 to chunk and registers a PatchHandle for it in the current scope.
func (r *Resolver) emitPatch(chunk *Chunk, op OpKind) PatchHandle {
	idx := chunk.emit(op, 0)
	h := PatchHandle{ChunkRef: chunk, Index: idx}
	r.current().Patches = append(r.current().Patches, h)
	return h
}

// currentLoopScope returns the nearest enclosing scope opened for a
// while-loop, or nil if Break/Continue appear outside one.
func (r *Resolver) currentLoopScope() *Scope {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if r.scopes[i].IsLoop {
			return r.scopes[i]
		}
	}
	return nil
}

// emitBreakPatch is like emitPatch but always registers against the
// nearest enclosing loop scope, not the innermost scope — a break
// several blocks deep inside a loop body still exits the loop itself.
func (r *Resolver) emitBreakPatch(chunk *Chunk, op OpKind) (PatchHandle, bool) {
	loop := r.currentLoopScope()
	if loop == nil {
		return PatchHandle{}, false
	}
	idx := chunk.emit(op, 0)
	h := PatchHandle{ChunkRef: chunk, Index: idx}
	loop.Patches = append(loop.Patches, h)
	return h, true
}

// currentClassScope returns the nearest enclosing class scope, or nil
// if This/Super appear outside a method.
func (r *Resolver) currentClassScope() *Scope {
	for i := len(r.scopes) - 1; i >= 0; i-- {
		if r.scopes[i].Kind == ScopeClass {
			return r.scopes[i]
		}
	}
	return nil
}

// patch resolves h's displacement to the distance from h to the
// chunk's current end. Scope bookkeeping is untouched; takePatches is
// how a scope's pending handles get drained.
func (h PatchHandle) patch() {
	displacement := len(h.ChunkRef.Opcodes) - h.Index
	h.ChunkRef.Opcodes[h.Index].Arg = displacement
}

// takePatches removes and returns all patches registered in s,
// letting the generator resolve them (e.g. break targets at loop
// exit) before the scope is discarded.
func (s *Scope) takePatches() []PatchHandle {
	p := s.Patches
	s.Patches = nil
	return p
}

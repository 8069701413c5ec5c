package gravitas

// This file is the library's public surface: four pipeline stages
// (parse → analyze → generate → run) exposed as free functions rather
// than methods on some monolithic "Interpreter" type, so callers can
// stop at whichever stage they need instead of going through one god
// object.

// Analyze is the pipeline's reserved second stage. It is the identity
// transform today: scope/upvalue resolution already happens inside
// Generate (resolver.go is driven directly by the generator, folding
// validation into a single walk rather than a separate pre-pass).
// Analyze exists as a distinct stage so a future static check (e.g.
// unreachable-code or unused-variable warnings) has a home without
// disturbing this pipeline's shape.
func Analyze(ast *Ast) (*Ast, error) {
	return ast, nil
}

// Compile runs parse, analyze and generate in sequence, the unit of
// work both `cmd/gravitas/main.go`'s `run-file` subcommand and its
// `repl` subcommand need: turn source text into a runnable Program (or
// the first accumulated error, whichever phase produced it).
func Compile(src []byte) (*Program, *InternTable, error) {
	ast, interns, err := Parse(src)
	if err != nil {
		return nil, interns, err
	}
	ast, err = Analyze(ast)
	if err != nil {
		return nil, interns, err
	}
	program, err := Generate(ast, interns)
	if err != nil {
		return nil, interns, err
	}
	return program, interns, nil
}

// Interpret is the single-call convenience form of the full pipeline:
// parse, analyze, generate, run, using cfg's `vm.debug` flag to decide
// whether the VM traces its dispatch loop via logrus.
func Interpret(src []byte, cfg *Config) (Value, error) {
	program, interns, err := Compile(src)
	if err != nil {
		return Value{}, err
	}
	return Run(program, interns, cfg)
}

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	gravitas "github.com/gravitas-lang/gravitas"
)

// main routes on a subcommand, one of two shapes: `repl` and
// `run-file`. Each subcommand owns its own flag.FlagSet rather than one
// flag list covering both, since the two modes take disjoint flags.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: gravitas <repl|run-file> [flags]")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "repl":
		runRepl(os.Args[2:])
	case "run-file":
		runFile(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q; want repl or run-file\n", os.Args[1])
		os.Exit(2)
	}
}

func newConfig(debug bool) *gravitas.Config {
	cfg := gravitas.NewConfig()
	if debug {
		cfg.SetBool("vm.debug", true)
	}
	return cfg
}

func runFile(args []string) {
	fs := flag.NewFlagSet("run-file", flag.ExitOnError)
	filePath := fs.String("file-path", "", "path to a Gravitas source file")
	debug := fs.Bool("debug", false, "enable VM trace logging")
	fs.Parse(args)

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "run-file: --file-path is required")
		os.Exit(2)
	}
	src, err := os.ReadFile(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "can't read %s: %s\n", *filePath, err)
		os.Exit(1)
	}

	cfg := newConfig(*debug)
	program, interns, err := gravitas.Compile(src)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	result, err := gravitas.Run(program, interns, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	fmt.Println(result)
}

// runRepl implements `gravitas repl [--debug]`. A Program is a
// self-contained unit (a chunk's global-table indices are only valid
// against the exact Globals slice its own Generate call produced), so
// splicing one line's compiled Globals into another's is unsound.
// Instead each iteration recompiles a growing source preamble: lines
// that are pure declarations (`let`/`fn`/`class`) are appended to the
// preamble so later lines see them, while bare expression lines are
// evaluated against the current preamble but never added to it — they
// have no declarations worth keeping and re-running them on every
// subsequent line would needlessly repeat any `print()` they call.
func runRepl(args []string) {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	debug := fs.Bool("debug", false, "enable VM trace logging")
	fs.Parse(args)

	cfg := newConfig(*debug)
	var preamble string

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("gravitas> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		full := preamble + line
		program, interns, err := gravitas.Compile([]byte(full))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		result, err := gravitas.Run(program, interns, cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if isDeclLine(line) {
			preamble += line + "\n"
		}
		fmt.Println(result)
	}
}

// isDeclLine reports whether line parses as exactly one top-level
// `let`/`fn`/`class` declaration, the only statement kinds worth
// folding into the REPL's growing preamble.
func isDeclLine(line string) bool {
	ast, _, err := gravitas.Parse([]byte(line))
	if err != nil || len(ast.Stmts) != 1 {
		return false
	}
	switch ast.Stmts[0].(type) {
	case *gravitas.VariableDeclarationStmt, *gravitas.FunctionDeclarationStmt, *gravitas.ClassDeclarationStmt:
		return true
	default:
		return false
	}
}

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
}

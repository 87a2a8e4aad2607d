package main

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/teris-io/cli"
	"its-hmny.dev/nand2tetris/pkg/asm"
	"its-hmny.dev/nand2tetris/pkg/vm"
)

var Description = strings.ReplaceAll(`
The VM Translator translates programs (composed of multiple modules/files) written in 
the VM language into Hack assembly code that can be further elaborated. The VM language
is a higher-level (bytecode'like) language tailored for use with the Hack computer arch.
`, "\n", " ")

var VmTranslator = cli.New(Description).
	// 'AsOptional()' allows to have more than one input .vm file
	WithArg(cli.NewArg("inputs", "The bytecode (.vm) file to be compiled").
		AsOptional().WithType(cli.TypeString)).
	WithOption(cli.NewOption("output", "The compiled binary output (.asm)").
		WithType(cli.TypeString)).
	WithOption(cli.NewOption("bootstrap", "Forces bootstrap code even if no module declares Sys.init").
		WithType(cli.TypeBool)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 || options["output"] == "" {
		fmt.Printf("ERROR: Not enough arguments provided, use --help\n")
		return -1
	}

	output, err := os.Create(options["output"])
	if err != nil {
		fmt.Printf("ERROR: Unable to open output file: %s\n", err)
		return -1
	}
	defer output.Close()

	// Each arg may be a single .vm file or a directory; walk every arg and collect the
	// individual .vm translation units, same as 'cmd/jack_compiler/main.go' does for .jack.
	// Sorted so a directory build translates its modules in lexical order, and so that
	// whichever module happens to declare 'Sys.init' is found deterministically below.
	TUs, fromDir := []string{}, false
	for _, input := range args {
		if info, err := os.Stat(input); err == nil && info.IsDir() {
			fromDir = true
		}
		filepath.Walk(input, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Ext(path) != ".vm" {
				return nil // We recurse on dirs and ignore other filetypes
			}

			TUs = append(TUs, path)
			return nil
		})
	}
	sort.Strings(TUs)

	// Allocates a 'vm.Program' struct to save all the parsed translation units (the .vm
	// files) that will be parsed and lowered independently and then sent to the codegen
	// phase (that will create a monolithic compiled output sharing one bootstrap sequence).
	program := vm.Program{}

	for _, tu := range TUs {
		content, err := os.ReadFile(tu)
		if err != nil {
			fmt.Printf("ERROR: Unable to open input file: %s\n", err)
			return -1
		}

		// Instantiate a parser for the Vm program, span/node errors are reported against 'tu'
		parser := vm.NewParser(bytes.NewReader(content))
		// Parses the input file content and extract an AST (as a 'vm.Module') from it.
		// The file stem (without its '.vm' extension) seeds the 'static' segment namespace
		// for this module, per the VM file format's naming discipline.
		filename, extension := path.Base(tu), path.Ext(tu)
		program[strings.TrimSuffix(filename, extension)], err = parser.Parse()
		if err != nil {
			fmt.Printf("ERROR: Unable to complete 'parsing' pass for '%s': %s\n", tu, err)
			return -1
		}
	}

	// Instantiate a lowerer to convert the program from Vm to Asm. The bootstrap sequence
	// (SP=256, then a plain jump to Sys.init) is prepended automatically whenever one of the translated
	// modules declares 'Sys.init' (i.e. a directory build with a single entrypoint).
	lowerer := asm.NewLowerer(program)
	// Lowers the vm.Program to an in-memory/IR representation of its Asm counterpart 'asm.Program'.
	asmProgram, err := lowerer.Lower()
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'lowering' pass: %s\n", err)
		return -1
	}

	// '--bootstrap' forces the bootstrap sequence even when none of the translated modules
	// declares 'Sys.init' (e.g. compiling a single arithmetic-only unit for the emulator
	// tests), and a directory input gets it the same way; the Lowerer already prepends it
	// automatically whenever 'Sys.init' is present, so we only need to cover the cases it wouldn't have.
	if _, enabled := options["bootstrap"]; (enabled || fromDir) && !hasSysInit(program) {
		asmProgram = append(asm.Bootstrap(), asmProgram...)
	}

	// Now, instantiates a code generator for the Asm (compiled) program
	codegen := asm.NewCodeGenerator(asmProgram)
	// Iterates over each instruction and spits out the relative textual representation.
	compiled, err := codegen.Generate()
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'codegen' pass: %s\n", err)
		return -1
	}

	for _, comp := range compiled {
		line := fmt.Sprintf("%s\n", comp)
		output.Write([]byte(line))
	}

	return 0
}

func hasSysInit(program vm.Program) bool {
	for _, module := range program {
		for _, op := range module {
			if decl, ok := op.(vm.FuncDecl); ok && decl.Name == "Sys.init" {
				return true
			}
		}
	}
	return false
}

func main() { os.Exit(VmTranslator.Run(os.Args, os.Stdout)) }

package asm

import (
	"errors"
	"fmt"
	"strconv"
)

// ----------------------------------------------------------------------------
// Built-in symbols

// Predefined Hack symbols that a label declaration is never allowed to shadow, adapted
// from the VM-era RAM layout (SP/LCL/ARG/THIS/THAT), the 16 general purpose registers and
// the two memory-mapped I/O locations (Screen buffer and Keyboard register).
var builtInSymbols = map[string]uint16{
	"SP": 0, "LCL": 1, "ARG": 2, "THIS": 3, "THAT": 4,
	"R0": 0, "R1": 1, "R2": 2, "R3": 3, "R4": 4, "R5": 5,
	"R6": 6, "R7": 7, "R8": 8, "R9": 9, "R10": 10, "R11": 11,
	"R12": 12, "R13": 13, "R14": 14, "R15": 15,
	"SCREEN": 16384, "KBD": 24576,
}

// ----------------------------------------------------------------------------
// Code Generator

// Takes a set of 'asm.Instruction' and spits out their textual counterparts.
//
// The translation can be done without any additional data structure but the program itself;
// labels are resolved at this stage only for well-formedness (collision with a built-in),
// not to an address, since the textual Hack assembly format keeps labels symbolic.
type CodeGenerator struct {
	program Program // The set of instructions to convert to Hack assembly text
}

// Initializes and returns to the caller a brand new 'CodeGenerator' struct.
// Requires that argument Program 'p' (what we want to translate) is non-nil.
func NewCodeGenerator(p Program) CodeGenerator {
	return CodeGenerator{program: p}
}

// Translates each instruction in the 'program' field to the Hack assembly textual format.
//
// Each instruction will pass through the following step: evaluation, validation and
// then conversion to its textual representation (a string) so that it can be further
// elaborated by the caller (e.g. dumping to a file, runtime interpretation, ...).
func (cg *CodeGenerator) Generate() ([]string, error) {
	text := make([]string, 0, len(cg.program))

	for _, instruction := range cg.program {
		var generated string
		var err error

		switch tInstruction := instruction.(type) {
		case AInstruction:
			generated, err = cg.GenerateAInst(tInstruction)
		case CInstruction:
			generated, err = cg.GenerateCInst(tInstruction)
		case LabelDecl:
			generated, err = cg.GenerateLabelDecl(tInstruction)
		default:
			err = fmt.Errorf("unrecognized instruction type '%T'", instruction)
		}

		if err != nil {
			return nil, err
		}
		text = append(text, generated)
	}

	return text, nil
}

// Specialized function to convert an A Instruction to the Hack assembly format.
//
// 'Location' can be a raw numeric address, a built-in symbol (SP, SCREEN, R3, ...) or a
// user-defined label: only the numeric case is validated here, since the other two are
// opaque symbols as far as the textual assembly format is concerned.
func (CodeGenerator) GenerateAInst(inst AInstruction) (string, error) {
	if inst.Location == "" {
		return "", errors.New("unable to produce an A instruction with an empty location")
	}

	if address, err := strconv.ParseInt(inst.Location, 10, 32); err == nil {
		if address < 0 || address >= int64(MaxAddressableMemory) {
			return "", fmt.Errorf("address '%d' is out of the addressable memory range", address)
		}
	}

	return fmt.Sprintf("@%s", inst.Location), nil
}

// Specialized function to convert a C Instruction to the Hack assembly format.
//
// A well-formed C Instruction always provides 'Comp' and exactly one of 'Dest' or 'Jump'
// (never both, never neither): the Hack spec overloads the same opcode layout for memory
// assignment ("dest=comp") and conditional jumps ("comp;jump").
func (cg *CodeGenerator) GenerateCInst(inst CInstruction) (string, error) {
	if inst.Comp == "" {
		return "", errors.New("expected 'comp' directive in C Instruction")
	}

	if inst.Dest != "" && inst.Jump == "" {
		return fmt.Sprintf("%s=%s", inst.Dest, inst.Comp), nil
	}
	if inst.Jump != "" && inst.Dest == "" {
		return fmt.Sprintf("%s;%s", inst.Comp, inst.Jump), nil
	}

	return "", errors.New("expected either 'dest' or 'jump' directive in C Instruction, not both or neither")
}

// Specialized function to convert a Label Declaration to the Hack assembly format.
func (cg *CodeGenerator) GenerateLabelDecl(inst LabelDecl) (string, error) {
	if inst.Name == "" {
		return "", errors.New("unable to produce an empty label declaration")
	}
	if _, found := builtInSymbols[inst.Name]; found {
		return "", fmt.Errorf("unable to override built-in label '%s'", inst.Name)
	}

	return fmt.Sprintf("(%s)", inst.Name), nil
}

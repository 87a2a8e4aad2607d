package asm

import (
	"fmt"
	"sort"

	"its-hmny.dev/nand2tetris/pkg/vm"
)

// ----------------------------------------------------------------------------
// Asm Lowerer

// The Lowerer takes a 'vm.Program' (the output of either the Jack compiler's emitter or
// the VM text parser) and produces its 'asm.Program' counterpart: a flat sequence of Hack
// assembly instructions implementing the segment addressing, arithmetic and calling
// convention rules of the VM specification.
//
// Modules are visited in sorted name order so that, for a given input, the emitted
// assembly (and therefore the label numbering below) is always identical byte-for-byte.
type Lowerer struct {
	program vm.Program // The VM program being lowered

	nRandomizer uint   // Counter used to keep generated labels (comparisons, call sites) unique
	currentFunc string // Name of the VM function currently being lowered, used to namespace labels
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the argument Program to be not nil nor empty.
func NewLowerer(p vm.Program) Lowerer {
	return Lowerer{program: p}
}

// Triggers the lowering process. Modules are visited in sorted name order; a bootstrap
// sequence (SP=256, then a plain jump to Sys.init with no call frame pushed) is prepended whenever one of the modules declares
// 'Sys.init', since a program built without a single entrypoint has nothing to bootstrap.
func (l *Lowerer) Lower() (Program, error) {
	if len(l.program) == 0 {
		return nil, fmt.Errorf("the given 'program' is empty or nil")
	}

	names := make([]string, 0, len(l.program))
	for name := range l.program {
		names = append(names, name)
	}
	sort.Strings(names)

	out := Program{}
	if hasSysInit(l.program, names) {
		out = append(out, l.bootstrap()...)
	}

	for _, name := range names {
		for _, operation := range l.program[name] {
			ops, err := l.HandleOperation(name, operation)
			if err != nil {
				return nil, fmt.Errorf("error lowering module '%s': %w", name, err)
			}
			out = append(out, ops...)
		}
	}

	return out, nil
}

func hasSysInit(program vm.Program, names []string) bool {
	for _, name := range names {
		for _, op := range program[name] {
			if decl, ok := op.(vm.FuncDecl); ok && decl.Name == "Sys.init" {
				return true
			}
		}
	}
	return false
}

// The bootstrap sequence sets the Stack Pointer to its base RAM location (256, right past
// the 16 virtual registers) and jumps unconditionally to 'Sys.init', which is expected to
// never return. Exported as 'Bootstrap' so a driver can prepend it explicitly (the
// 'vm_translator --bootstrap' override) even for a single-file build with no 'Sys.init'.
func Bootstrap() Program {
	return Program{
		AInstruction{Location: "256"},
		CInstruction{Dest: "D", Comp: "A"},
		AInstruction{Location: "SP"},
		CInstruction{Dest: "M", Comp: "D"},
		AInstruction{Location: "Sys.init"},
		CInstruction{Comp: "0", Jump: "JMP"},
	}
}

func (l *Lowerer) bootstrap() Program { return Bootstrap() }

// Dispatches a single 'vm.Operation' to its specialized handler.
func (l *Lowerer) HandleOperation(module string, op vm.Operation) (Program, error) {
	switch tOp := op.(type) {
	case vm.MemoryOp:
		return l.HandleMemoryOp(module, tOp)
	case vm.ArithmeticOp:
		return l.HandleArithmeticOp(tOp)
	case vm.LabelDecl:
		return Program{LabelDecl{Name: l.namespacedLabel(tOp.Name)}}, nil
	case vm.GotoOp:
		return l.HandleGotoOp(tOp), nil
	case vm.FuncDecl:
		return l.HandleFuncDecl(tOp), nil
	case vm.FuncCallOp:
		return l.HandleFuncCallOp(tOp), nil
	case vm.ReturnOp:
		return l.HandleReturnOp(), nil
	default:
		return nil, fmt.Errorf("unrecognized VM operation '%T'", op)
	}
}

// ----------------------------------------------------------------------------
// Memory segments

// Specialized function to convert a 'vm.MemoryOp' to its segment-addressing macro.
//
// 'local'/'argument'/'this'/'that' are indirect through their base-pointer register,
// 'pointer'/'temp' map directly onto a fixed RAM location, 'static' is namespaced per
// module (it becomes a user-defined label '<module>.<offset>') and 'constant' can only
// ever be pushed, never popped.
func (l *Lowerer) HandleMemoryOp(module string, op vm.MemoryOp) (Program, error) {
	switch op.Segment {
	case vm.Constant:
		if op.Operation == vm.Pop {
			return nil, fmt.Errorf("cannot pop into the 'constant' segment")
		}
		return l.pushConstant(op.Offset), nil

	case vm.Local:
		return l.memIndirect(op.Operation, "LCL", op.Offset), nil
	case vm.Argument:
		return l.memIndirect(op.Operation, "ARG", op.Offset), nil
	case vm.This:
		return l.memIndirect(op.Operation, "THIS", op.Offset), nil
	case vm.That:
		return l.memIndirect(op.Operation, "THAT", op.Offset), nil

	case vm.Temp:
		if op.Offset > 7 {
			return nil, fmt.Errorf("invalid 'temp' offset, got %d", op.Offset)
		}
		return l.memDirect(op.Operation, fmt.Sprintf("%d", 5+op.Offset)), nil

	case vm.Pointer:
		if op.Offset > 1 {
			return nil, fmt.Errorf("invalid 'pointer' offset, got %d", op.Offset)
		}
		target := "THIS"
		if op.Offset == 1 {
			target = "THAT"
		}
		return l.memDirect(op.Operation, target), nil

	case vm.Static:
		return l.memDirect(op.Operation, fmt.Sprintf("%s.%d", module, op.Offset)), nil

	default:
		return nil, fmt.Errorf("unrecognized memory segment '%s'", op.Segment)
	}
}

func (l *Lowerer) memDirect(operation vm.OperationType, addr string) Program {
	if operation == vm.Push {
		return l.pushDirect(addr)
	}
	return l.popToDirect(addr)
}

func (l *Lowerer) memIndirect(operation vm.OperationType, ptr string, offset uint16) Program {
	if operation == vm.Push {
		return l.pushFromSegmentIndirect(ptr, offset)
	}
	return l.popToSegmentIndirect(ptr, offset)
}

// Pushes the value currently held in the D register onto the stack and advances SP.
func (l *Lowerer) pushDRaw() Program {
	return Program{
		AInstruction{Location: "SP"},
		CInstruction{Dest: "A", Comp: "M"},
		CInstruction{Dest: "M", Comp: "D"},
		AInstruction{Location: "SP"},
		CInstruction{Dest: "M", Comp: "M+1"},
	}
}

func (l *Lowerer) pushConstant(value uint16) Program {
	out := Program{
		AInstruction{Location: fmt.Sprintf("%d", value)},
		CInstruction{Dest: "D", Comp: "A"},
	}
	return append(out, l.pushDRaw()...)
}

func (l *Lowerer) pushDirect(addr string) Program {
	out := Program{
		AInstruction{Location: addr},
		CInstruction{Dest: "D", Comp: "M"},
	}
	return append(out, l.pushDRaw()...)
}

func (l *Lowerer) pushFromSegmentIndirect(ptr string, offset uint16) Program {
	out := Program{
		AInstruction{Location: ptr},
		CInstruction{Dest: "D", Comp: "M"},
		AInstruction{Location: fmt.Sprintf("%d", offset)},
		CInstruction{Dest: "A", Comp: "D+A"},
		CInstruction{Dest: "D", Comp: "M"},
	}
	return append(out, l.pushDRaw()...)
}

func (l *Lowerer) popToDirect(addr string) Program {
	return Program{
		AInstruction{Location: "SP"},
		CInstruction{Dest: "AM", Comp: "M-1"},
		CInstruction{Dest: "D", Comp: "M"},
		AInstruction{Location: addr},
		CInstruction{Dest: "M", Comp: "D"},
	}
}

// Popping into an indirect segment needs the target address computed before the value
// is popped off the stack, so the address is stashed in R13 (a general purpose register
// with no other concurrent use at this point in the lowering).
func (l *Lowerer) popToSegmentIndirect(ptr string, offset uint16) Program {
	return Program{
		AInstruction{Location: ptr},
		CInstruction{Dest: "D", Comp: "M"},
		AInstruction{Location: fmt.Sprintf("%d", offset)},
		CInstruction{Dest: "D", Comp: "D+A"},
		AInstruction{Location: "R13"},
		CInstruction{Dest: "M", Comp: "D"},
		AInstruction{Location: "SP"},
		CInstruction{Dest: "AM", Comp: "M-1"},
		CInstruction{Dest: "D", Comp: "M"},
		AInstruction{Location: "R13"},
		CInstruction{Dest: "A", Comp: "M"},
		CInstruction{Dest: "M", Comp: "D"},
	}
}

// ----------------------------------------------------------------------------
// Arithmetic

// Specialized function to convert a 'vm.ArithmeticOp' to its instruction sequence.
func (l *Lowerer) HandleArithmeticOp(op vm.ArithmeticOp) (Program, error) {
	switch op.Operation {
	case vm.Add:
		return l.binary("D+M"), nil
	case vm.Sub:
		return l.binary("M-D"), nil
	case vm.And:
		return l.binary("D&M"), nil
	case vm.Or:
		return l.binary("D|M"), nil
	case vm.Neg:
		return l.unary("-M"), nil
	case vm.Not:
		return l.unary("!M"), nil
	case vm.Eq:
		return l.compare("JEQ"), nil
	case vm.Gt:
		return l.compare("JGT"), nil
	case vm.Lt:
		return l.compare("JLT"), nil
	default:
		return nil, fmt.Errorf("unrecognized arithmetic operation '%s'", op.Operation)
	}
}

// Pops 2 values, combines them with 'comp' (where M is the 1st operand and D the 2nd) and
// pushes the result back, all without moving the Stack Pointer more than strictly needed.
func (l *Lowerer) binary(comp string) Program {
	return Program{
		AInstruction{Location: "SP"},
		CInstruction{Dest: "AM", Comp: "M-1"},
		CInstruction{Dest: "D", Comp: "M"},
		CInstruction{Dest: "A", Comp: "A-1"},
		CInstruction{Dest: "M", Comp: comp},
	}
}

// Applies 'comp' (a unary operation on M) to the stack top in place.
func (l *Lowerer) unary(comp string) Program {
	return Program{
		AInstruction{Location: "SP"},
		CInstruction{Dest: "A", Comp: "M-1"},
		CInstruction{Dest: "M", Comp: comp},
	}
}

// Pops 2 values, subtracts them and jumps on 'jump' to decide between pushing true (-1)
// or false (0). Needs 2 fresh labels per call site to avoid colliding with any other
// comparison lowered elsewhere in the same program.
func (l *Lowerer) compare(jump string) Program {
	trueLabel := fmt.Sprintf("CMP.TRUE.%d", l.nRandomizer)
	endLabel := fmt.Sprintf("CMP.END.%d", l.nRandomizer)
	l.nRandomizer++

	return Program{
		AInstruction{Location: "SP"},
		CInstruction{Dest: "AM", Comp: "M-1"},
		CInstruction{Dest: "D", Comp: "M"},
		CInstruction{Dest: "A", Comp: "A-1"},
		CInstruction{Dest: "D", Comp: "M-D"},
		AInstruction{Location: trueLabel},
		CInstruction{Comp: "D", Jump: jump},
		AInstruction{Location: "SP"},
		CInstruction{Dest: "A", Comp: "M-1"},
		CInstruction{Dest: "M", Comp: "0"},
		AInstruction{Location: endLabel},
		CInstruction{Comp: "0", Jump: "JMP"},
		LabelDecl{Name: trueLabel},
		AInstruction{Location: "SP"},
		CInstruction{Dest: "A", Comp: "M-1"},
		CInstruction{Dest: "M", Comp: "-1"},
		LabelDecl{Name: endLabel},
	}
}

// ----------------------------------------------------------------------------
// Control flow & subroutines

// Every VM-level label is namespaced with the enclosing function's name (standard
// nand2tetris convention, e.g. 'Foo.bar$LOOP_START') so that 2 functions using the exact
// same label text never collide in the flattened Hack assembly.
func (l *Lowerer) namespacedLabel(label string) string {
	if l.currentFunc == "" {
		return label
	}
	return fmt.Sprintf("%s$%s", l.currentFunc, label)
}

func (l *Lowerer) HandleGotoOp(op vm.GotoOp) Program {
	label := l.namespacedLabel(op.Label)

	if op.Jump == vm.Unconditional {
		return Program{
			AInstruction{Location: label},
			CInstruction{Comp: "0", Jump: "JMP"},
		}
	}

	return Program{
		AInstruction{Location: "SP"},
		CInstruction{Dest: "AM", Comp: "M-1"},
		CInstruction{Dest: "D", Comp: "M"},
		AInstruction{Location: label},
		CInstruction{Comp: "D", Jump: "JNE"},
	}
}

// A function's prologue is just its label followed by 'NLocal' pushes of constant 0, one
// per local variable that needs to start zero-initialized.
func (l *Lowerer) HandleFuncDecl(decl vm.FuncDecl) Program {
	l.currentFunc = decl.Name

	out := Program{LabelDecl{Name: decl.Name}}
	for i := uint8(0); i < decl.NLocal; i++ {
		out = append(out, l.pushConstant(0)...)
	}
	return out
}

// Implements the calling convention: push the return address and the caller's 4 segment
// pointers, reposition ARG/LCL for the callee, then jump. The return address is a fresh
// label placed right after the jump, resolved once the callee eventually returns to it.
func (l *Lowerer) HandleFuncCallOp(op vm.FuncCallOp) Program {
	returnLabel := l.namespacedLabel(fmt.Sprintf("ret.%d", l.nRandomizer))
	l.nRandomizer++

	out := Program{
		AInstruction{Location: returnLabel},
		CInstruction{Dest: "D", Comp: "A"},
	}
	out = append(out, l.pushDRaw()...)

	for _, ptr := range []string{"LCL", "ARG", "THIS", "THAT"} {
		out = append(out,
			AInstruction{Location: ptr},
			CInstruction{Dest: "D", Comp: "M"},
		)
		out = append(out, l.pushDRaw()...)
	}

	out = append(out,
		AInstruction{Location: "SP"},
		CInstruction{Dest: "D", Comp: "M"},
		AInstruction{Location: fmt.Sprintf("%d", int(op.NArgs)+5)},
		CInstruction{Dest: "D", Comp: "D-A"},
		AInstruction{Location: "ARG"},
		CInstruction{Dest: "M", Comp: "D"},
		AInstruction{Location: "SP"},
		CInstruction{Dest: "D", Comp: "M"},
		AInstruction{Location: "LCL"},
		CInstruction{Dest: "M", Comp: "D"},
		AInstruction{Location: op.Name},
		CInstruction{Comp: "0", Jump: "JMP"},
		LabelDecl{Name: returnLabel},
	)

	return out
}

// Implements the return side of the calling convention: stash FRAME (=LCL) and RET
// (=*(FRAME-5)) before anything below ARG is overwritten, move the return value to
// *ARG, reposition SP, restore the caller's 4 segment pointers from the frame and jump
// back to RET.
func (l *Lowerer) HandleReturnOp() Program {
	restore := func(reg string) Program {
		return Program{
			AInstruction{Location: "R13"},
			CInstruction{Dest: "AM", Comp: "M-1"},
			CInstruction{Dest: "D", Comp: "M"},
			AInstruction{Location: reg},
			CInstruction{Dest: "M", Comp: "D"},
		}
	}

	out := Program{
		AInstruction{Location: "LCL"},
		CInstruction{Dest: "D", Comp: "M"},
		AInstruction{Location: "R13"}, // FRAME
		CInstruction{Dest: "M", Comp: "D"},
		AInstruction{Location: "5"},
		CInstruction{Dest: "A", Comp: "D-A"},
		CInstruction{Dest: "D", Comp: "M"},
		AInstruction{Location: "R14"}, // RET
		CInstruction{Dest: "M", Comp: "D"},

		AInstruction{Location: "SP"},
		CInstruction{Dest: "AM", Comp: "M-1"},
		CInstruction{Dest: "D", Comp: "M"},
		AInstruction{Location: "ARG"},
		CInstruction{Dest: "A", Comp: "M"},
		CInstruction{Dest: "M", Comp: "D"},

		AInstruction{Location: "ARG"},
		CInstruction{Dest: "D", Comp: "M+1"},
		AInstruction{Location: "SP"},
		CInstruction{Dest: "M", Comp: "D"},
	}

	out = append(out, restore("THAT")...)
	out = append(out, restore("THIS")...)
	out = append(out, restore("ARG")...)
	out = append(out, restore("LCL")...)

	out = append(out,
		AInstruction{Location: "R14"},
		CInstruction{Dest: "A", Comp: "M"},
		CInstruction{Comp: "0", Jump: "JMP"},
	)

	return out
}

package asm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"its-hmny.dev/nand2tetris/pkg/asm"
	"its-hmny.dev/nand2tetris/pkg/vm"
)

func countA(prog asm.Program, location string) int {
	count := 0
	for _, inst := range prog {
		if a, ok := inst.(asm.AInstruction); ok && a.Location == location {
			count++
		}
	}
	return count
}

func TestBootstrap(t *testing.T) {
	t.Run("Emitted once when a module declares Sys.init", func(t *testing.T) {
		lowerer := asm.NewLowerer(vm.Program{
			"Sys": {vm.FuncDecl{Name: "Sys.init", NLocal: 0}, vm.ReturnOp{}},
		})

		compiled, err := lowerer.Lower()
		require.NoError(t, err)
		require.Equal(t, asm.AInstruction{Location: "256"}, compiled[0])
		require.Equal(t, asm.AInstruction{Location: "Sys.init"}, compiled[4])
	})

	t.Run("Omitted when no module declares Sys.init", func(t *testing.T) {
		lowerer := asm.NewLowerer(vm.Program{
			"Main": {vm.FuncDecl{Name: "Main.main", NLocal: 0}, vm.ReturnOp{}},
		})

		compiled, err := lowerer.Lower()
		require.NoError(t, err)
		require.NotEqual(t, asm.AInstruction{Location: "256"}, compiled[0])
	})
}

func TestDeterministicModuleOrdering(t *testing.T) {
	// The same 'vm.Program' lowered twice (map iteration order is randomized by Go) must
	// always produce byte-identical assembly, since module names are sorted before emission.
	program := vm.Program{
		"Zebra": {vm.FuncDecl{Name: "Zebra.run", NLocal: 0}, vm.ReturnOp{}},
		"Alpha": {vm.FuncDecl{Name: "Alpha.run", NLocal: 0}, vm.ReturnOp{}},
	}

	first, err := asm.NewLowerer(program).Lower()
	require.NoError(t, err)
	second, err := asm.NewLowerer(program).Lower()
	require.NoError(t, err)
	require.Equal(t, first, second)

	// 'Alpha' sorts before 'Zebra', so its '(Alpha.run)' label must appear first.
	firstLabel := -1
	for i, inst := range first {
		if decl, ok := inst.(asm.LabelDecl); ok {
			firstLabel = i
			require.Equal(t, "Alpha.run", decl.Name)
			break
		}
	}
	require.NotEqual(t, -1, firstLabel)
}

func TestCallingConvention(t *testing.T) {
	lowerer := asm.NewLowerer(vm.Program{})

	t.Run("call pushes return address and all 4 segment pointers", func(t *testing.T) {
		compiled := lowerer.HandleFuncCallOp(vm.FuncCallOp{Name: "Foo.bar", NArgs: 2})

		// 5 pushes (return address + LCL/ARG/THIS/THAT), each is 1 A-load + 1 C-read
		// followed by the shared 'pushDRaw' 5-instruction macro: (1+1+5)*5 = 35, plus the
		// ARG/LCL repositioning (10 instructions) and the final jump + return label (3).
		require.Equal(t, 2, countA(compiled, "LCL")) // read (for push) + write (repositioning)
		require.Equal(t, 2, countA(compiled, "ARG")) // read (for push) + write (repositioning)
		require.Equal(t, 1, countA(compiled, "THIS"))
		require.Equal(t, 1, countA(compiled, "THAT"))
		require.Equal(t, asm.AInstruction{Location: "Foo.bar"}, compiled[len(compiled)-3])
	})

	t.Run("return address label is fresh per call site", func(t *testing.T) {
		first := lowerer.HandleFuncCallOp(vm.FuncCallOp{Name: "Foo.bar", NArgs: 0})
		second := lowerer.HandleFuncCallOp(vm.FuncCallOp{Name: "Foo.bar", NArgs: 0})

		firstLabel := first[len(first)-1].(asm.LabelDecl).Name
		secondLabel := second[len(second)-1].(asm.LabelDecl).Name
		require.NotEqual(t, firstLabel, secondLabel)
	})
}

func TestReturnSequence(t *testing.T) {
	lowerer := asm.NewLowerer(vm.Program{})
	compiled := lowerer.HandleReturnOp()

	// FRAME (R13) is stashed from LCL before anything else is touched.
	require.Equal(t, asm.AInstruction{Location: "LCL"}, compiled[0])
	require.Equal(t, asm.AInstruction{Location: "R13"}, compiled[2])
	// The final instruction always jumps back through R14 (RET).
	last := compiled[len(compiled)-1].(asm.CInstruction)
	require.Equal(t, "JMP", last.Jump)
}

func TestMemorySegmentAddressing(t *testing.T) {
	lowerer := asm.NewLowerer(vm.Program{})

	t.Run("temp offset out of range is rejected", func(t *testing.T) {
		_, err := lowerer.HandleMemoryOp("Main", vm.MemoryOp{Operation: vm.Push, Segment: vm.Temp, Offset: 8})
		require.Error(t, err)
	})

	t.Run("pointer offset out of range is rejected", func(t *testing.T) {
		_, err := lowerer.HandleMemoryOp("Main", vm.MemoryOp{Operation: vm.Push, Segment: vm.Pointer, Offset: 2})
		require.Error(t, err)
	})

	t.Run("popping into constant is rejected", func(t *testing.T) {
		_, err := lowerer.HandleMemoryOp("Main", vm.MemoryOp{Operation: vm.Pop, Segment: vm.Constant, Offset: 0})
		require.Error(t, err)
	})

	t.Run("static segment is namespaced by module", func(t *testing.T) {
		compiled, err := lowerer.HandleMemoryOp("Main", vm.MemoryOp{Operation: vm.Push, Segment: vm.Static, Offset: 3})
		require.NoError(t, err)
		require.Equal(t, asm.AInstruction{Location: "Main.3"}, compiled[0])
	})
}

func TestLabelNamespacing(t *testing.T) {
	lowerer := asm.NewLowerer(vm.Program{})
	lowerer.HandleFuncDecl(vm.FuncDecl{Name: "Main.main", NLocal: 0})

	compiled := lowerer.HandleGotoOp(vm.GotoOp{Jump: vm.Unconditional, Label: "LOOP"})
	require.Equal(t, asm.AInstruction{Location: "Main.main$LOOP"}, compiled[0])
}

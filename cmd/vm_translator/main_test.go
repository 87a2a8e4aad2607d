package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeVM(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unable to write fixture '%s': %s", path, err)
	}
	return path
}

func readAsm(t *testing.T, path string) []string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unable to read compiled output '%s': %s", path, err)
	}
	return strings.Split(strings.TrimRight(string(content), "\n"), "\n")
}

func TestVMTranslatorSimpleAdd(t *testing.T) {
	dir := t.TempDir()
	input := writeVM(t, dir, "SimpleAdd.vm", `
		// Pushes and adds two constants.
		push constant 7
		push constant 8
		add
	`)
	output := filepath.Join(dir, "SimpleAdd.asm")

	status := Handler([]string{input}, map[string]string{"output": output})
	if status != 0 {
		t.Fatalf("unexpected exit status code: expected 0 got %d", status)
	}

	lines := readAsm(t, output)
	if lines[0] == "@256" {
		t.Fatalf("a single file with no Sys.init should not receive a bootstrap sequence")
	}
	// Two pushes then one binary op: each 'push constant' expands to 7 instructions,
	// 'add' to 5 (decrement SP, load D, step A to the first operand, M=D+M).
	if len(lines) != 7+7+5 {
		t.Fatalf("unexpected instruction count: got %d", len(lines))
	}
}

func TestVMTranslatorCallingConvention(t *testing.T) {
	dir := t.TempDir()
	input := writeVM(t, dir, "Main.vm", `
		function Main.main 0
		call Main.double 1
		return

		function Main.double 0
		push argument 0
		push argument 0
		add
		return
	`)
	output := filepath.Join(dir, "Main.asm")

	status := Handler([]string{input}, map[string]string{"output": output})
	if status != 0 {
		t.Fatalf("unexpected exit status code: expected 0 got %d", status)
	}

	lines := readAsm(t, output)
	var sawCall, sawReturn bool
	for _, line := range lines {
		if line == "@Main.double" {
			sawCall = true
		}
		if strings.HasPrefix(line, "(Main.main$") {
			sawReturn = true
		}
	}
	if !sawCall {
		t.Fatalf("expected a jump to the called function's label")
	}
	if !sawReturn {
		t.Fatalf("expected a namespaced return-address label for the call site")
	}
}

func TestVMTranslatorBootstrapFlag(t *testing.T) {
	dir := t.TempDir()
	input := writeVM(t, dir, "NoEntrypoint.vm", `
		function Helper.identity 0
		push argument 0
		return
	`)
	output := filepath.Join(dir, "NoEntrypoint.asm")

	status := Handler([]string{input}, map[string]string{"output": output, "bootstrap": "true"})
	if status != 0 {
		t.Fatalf("unexpected exit status code: expected 0 got %d", status)
	}

	lines := readAsm(t, output)
	if lines[0] != "@256" {
		t.Fatalf("expected '--bootstrap' to force the SP=256 sequence even with no Sys.init, got %q", lines[0])
	}
}

func TestVMTranslatorDirectoryBuild(t *testing.T) {
	dir := t.TempDir()
	writeVM(t, dir, "Main.vm", `
		function Sys.init 0
		push constant 1
		call Helper.compute 1
		return
	`)
	writeVM(t, dir, "Helper.vm", `
		function Helper.compute 0
		push argument 0
		push static 0
		add
		return
	`)
	output := filepath.Join(dir, "out.asm")

	// Passing the directory itself (not individual files) exercises spec.md §4.6: every
	// contained .vm file is translated into one .asm sharing a single bootstrap sequence.
	status := Handler([]string{dir}, map[string]string{"output": output})
	if status != 0 {
		t.Fatalf("unexpected exit status code: expected 0 got %d", status)
	}

	lines := readAsm(t, output)
	if lines[0] != "@256" {
		t.Fatalf("expected an automatic bootstrap since 'Sys.init' is among the directory's modules, got %q", lines[0])
	}

	var sawSysInit, sawHelperCompute, sawStaticNamespace bool
	for _, line := range lines {
		if line == "(Sys.init)" {
			sawSysInit = true
		}
		if line == "(Helper.compute)" {
			sawHelperCompute = true
		}
		// The static segment is namespaced by file stem, not by the literal '.vm' filename.
		if strings.HasPrefix(line, "@Helper.") {
			sawStaticNamespace = true
		}
	}
	if !sawSysInit {
		t.Fatalf("expected 'Sys.init' from Main.vm to be present in the compiled output")
	}
	if !sawHelperCompute {
		t.Fatalf("expected 'Helper.compute' from Helper.vm to be present in the compiled output")
	}
	if !sawStaticNamespace {
		t.Fatalf("expected the 'static' segment in Helper.vm to be namespaced as 'Helper.<n>', not 'Helper.vm.<n>'")
	}
}

func TestVMTranslatorMissingArguments(t *testing.T) {
	status := Handler(nil, map[string]string{})
	if status == 0 {
		t.Fatalf("expected a non-zero exit status when no input/output is provided")
	}
}

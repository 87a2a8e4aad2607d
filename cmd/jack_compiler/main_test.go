package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeJack(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unable to write fixture '%s': %s", path, err)
	}
	return path
}

func readVM(t *testing.T, path string) []string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unable to read compiled output '%s': %s", path, err)
	}
	return strings.Split(strings.TrimRight(string(content), "\n"), "\n")
}

const mainClass = `
class Main {
	function void main() {
		var int sum;
		let sum = Main.add(2, 3);
		return;
	}

	function int add(int a, int b) {
		return a + b;
	}
}
`

func TestJackCompilerSingleClass(t *testing.T) {
	dir := t.TempDir()
	writeJack(t, dir, "Main.jack", mainClass)

	status := Handler([]string{dir}, map[string]string{})
	if status != 0 {
		t.Fatalf("unexpected exit status code: expected 0 got %d", status)
	}

	lines := readVM(t, filepath.Join(dir, "Main.vm"))
	if lines[0] != "function Main.main 1" {
		t.Fatalf("expected 'function Main.main 1' as the prologue, got %q", lines[0])
	}

	var sawCall bool
	for _, line := range lines {
		if line == "call Main.add 2" {
			sawCall = true
		}
	}
	if !sawCall {
		t.Fatalf("expected a 'call Main.add 2' instruction among:\n%s", strings.Join(lines, "\n"))
	}
}

const objectClass = `
class Counter {
	field int value;

	constructor Counter new() {
		let value = 0;
		return this;
	}

	method void increment() {
		let value = value + 1;
		return;
	}

	method int get() {
		return value;
	}
}
`

func TestJackCompilerConstructorAndMethods(t *testing.T) {
	dir := t.TempDir()
	writeJack(t, dir, "Counter.jack", objectClass)

	status := Handler([]string{dir}, map[string]string{})
	if status != 0 {
		t.Fatalf("unexpected exit status code: expected 0 got %d", status)
	}

	lines := readVM(t, filepath.Join(dir, "Counter.vm"))
	joined := strings.Join(lines, "\n")

	if !strings.Contains(joined, "call Memory.alloc 1") {
		t.Fatalf("expected the constructor prologue to allocate the object, got:\n%s", joined)
	}
	if !strings.Contains(joined, "pop pointer 0") {
		t.Fatalf("expected the constructor prologue to bind 'this', got:\n%s", joined)
	}
	if !strings.Contains(joined, "push argument 0") {
		t.Fatalf("expected method prologues to alias 'this' from argument 0, got:\n%s", joined)
	}
}

func TestJackCompilerStdlibCall(t *testing.T) {
	dir := t.TempDir()
	writeJack(t, dir, "Hello.jack", `
		class Hello {
			function void main() {
				do Output.printString("hi");
				return;
			}
		}
	`)

	status := Handler([]string{dir}, map[string]string{"stdlib": "true", "typecheck": "true"})
	if status != 0 {
		t.Fatalf("unexpected exit status code: expected 0 got %d", status)
	}

	lines := readVM(t, filepath.Join(dir, "Hello.vm"))
	var sawCall bool
	for _, line := range lines {
		if line == "call Output.printString 1" {
			sawCall = true
		}
	}
	if !sawCall {
		t.Fatalf("expected a resolved call to the stdlib's 'Output.printString', got:\n%s", strings.Join(lines, "\n"))
	}
}

func TestJackCompilerTypecheckCatchesUnresolvedName(t *testing.T) {
	dir := t.TempDir()
	writeJack(t, dir, "Bad.jack", `
		class Bad {
			function void main() {
				let x = 1;
				return;
			}
		}
	`)

	status := Handler([]string{dir}, map[string]string{"typecheck": "true"})
	if status == 0 {
		t.Fatalf("expected a non-zero exit status for an assignment to an undeclared variable")
	}
}

func TestJackCompilerMissingArguments(t *testing.T) {
	status := Handler(nil, map[string]string{})
	if status == 0 {
		t.Fatalf("expected a non-zero exit status when no input is provided")
	}
}

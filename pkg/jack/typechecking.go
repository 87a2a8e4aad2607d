package jack

import "fmt"

// ----------------------------------------------------------------------------
// Jack Type Checker

// The TypeChecker walks a 'jack.Program' the same way the Lowerer does (class by class,
// subroutine by subroutine, statement by statement) but never emits any 'vm.Operation':
// its only job is to resolve every name referenced by the program against the scope it
// is used in, surfacing a 'ResolveError' for anything left dangling.
//
// Unlike 'LexError'/'ParseError', a resolution failure doesn't abort the walk: we record
// the diagnostic and keep going, so every class, subroutine and statement is still visited.
// Only the first diagnostic recorded is returned to the caller; the others are dropped.
type TypeChecker struct {
	program Program
	scopes  ScopeTable // Keeps track of the scopes and declared variables inside each one
}

// A ResolveError reports a name that could not be found in any scope reachable from the
// point where it was referenced (variable, field, or class/subroutine name).
type ResolveError struct {
	Class      string
	Subroutine string
	Name       string
	Err        error
}

func (e ResolveError) Error() string {
	return fmt.Sprintf("%s.%s: unresolved name '%s': %s", e.Class, e.Subroutine, e.Name, e.Err)
}

func (e ResolveError) Unwrap() error { return e.Err }

func NewTypeChecker(program Program) TypeChecker {
	return TypeChecker{program: program}
}

// Runs the resolution pass against the whole program. Every class is visited; if any
// diagnostic has been produced it returns false alongside the first one recorded (the
// others are not returned); the caller may still inspect every class independently via 'HandleClass'.
func (tc *TypeChecker) Check() (bool, error) {
	if tc.program == nil {
		return false, fmt.Errorf("the given 'program' is empty or nil")
	}

	var diagnostics []error
	for _, class := range tc.program {
		if _, err := tc.HandleClass(class); err != nil {
			diagnostics = append(diagnostics, err)
		}
	}

	if len(diagnostics) > 0 {
		return false, diagnostics[0]
	}
	return true, nil
}

// Specialized function to type-check a 'jack.Class' and nested fields.
func (tc *TypeChecker) HandleClass(class Class) (bool, error) {
	tc.scopes.PushClassScope(class.Name) // Keep track of the current scope being processed
	defer tc.scopes.PopClassScope()      // Reset the function name after processing

	for _, field := range class.Fields.Entries() {
		if _, err := tc.HandleVarStmt(VarStmt{Vars: []Variable{field}}); err != nil {
			return false, fmt.Errorf("error handling field '%s' in class '%s': %w", field.Name, class.Name, err)
		}
	}

	var diagnostics []error
	for _, subroutine := range class.Subroutines.Entries() {
		if _, err := tc.HandleSubroutine(class.Name, subroutine); err != nil {
			diagnostics = append(diagnostics, err)
		}
	}

	if len(diagnostics) > 0 {
		return false, diagnostics[0]
	}
	return true, nil
}

// Specialized function to type-check a 'jack.Subroutine' and nested fields. A subroutine
// is resolved statement by statement; the first unresolved name poisons the return value
// but every statement is still visited so that multiple diagnostics can accumulate.
func (tc *TypeChecker) HandleSubroutine(class string, subroutine Subroutine) (bool, error) {
	tc.scopes.PushSubRoutineScope(subroutine.Name) // Keep track of the current subroutine function being processed
	defer tc.scopes.PopSubroutineScope()           // Reset the function name after processing

	if subroutine.Type == Method {
		tc.scopes.RegisterVariable(Variable{Name: "__obj", Type: Parameter, DataType: Object})
	}

	// We add to the current scope also all of the arguments of the subroutine
	for _, arg := range subroutine.Arguments.Entries() {
		// Like this we're actually supporting shadowing of variables, so if a variable
		// with the same name is already present in the current scope, we just temporarily
		// override it with the most update one instead of returning an error (like Go does).
		tc.scopes.RegisterVariable(arg)
	}

	var diagnostics []error
	for _, stmt := range subroutine.Statements {
		if _, err := tc.HandleStatement(stmt); err != nil {
			diagnostics = append(diagnostics, ResolveError{Class: class, Subroutine: subroutine.Name, Err: err})
		}
	}

	if len(diagnostics) > 0 {
		return false, diagnostics[0]
	}
	return true, nil
}

// Generalized function to type-check multiple statements types.
func (tc *TypeChecker) HandleStatement(stmt Statement) (bool, error) {
	switch tStmt := stmt.(type) {
	case DoStmt:
		return tc.HandleFuncCallExpr(tStmt.FuncCall)
	case VarStmt:
		return tc.HandleVarStmt(tStmt)
	case LetStmt:
		return tc.HandleLetStmt(tStmt)
	case IfStmt:
		return tc.HandleIfStmt(tStmt)
	case WhileStmt:
		return tc.HandleWhileStmt(tStmt)
	case ReturnStmt:
		if tStmt.Expr == nil {
			return true, nil
		}
		return tc.HandleExpression(tStmt.Expr)
	default:
		return false, fmt.Errorf("unrecognized statement: %T", stmt)
	}
}

func (tc *TypeChecker) HandleVarStmt(statement VarStmt) (bool, error) {
	for _, variable := range statement.Vars {
		tc.scopes.RegisterVariable(variable)
	}
	return true, nil
}

func (tc *TypeChecker) HandleLetStmt(statement LetStmt) (bool, error) {
	switch lhs := statement.Lhs.(type) {
	case VarExpr:
		if _, _, err := tc.scopes.ResolveVariable(lhs.Var); err != nil {
			return false, fmt.Errorf("%s: %w", lhs.Span, err)
		}
	case ArrayExpr:
		if ok, err := tc.HandleExpression(lhs); !ok {
			return false, err
		}
	default:
		return false, fmt.Errorf("LHS expression must be either a 'VarExpr' or an 'ArrayExpr', got: %T", statement.Lhs)
	}

	return tc.HandleExpression(statement.Rhs)
}

func (tc *TypeChecker) HandleIfStmt(statement IfStmt) (bool, error) {
	if ok, err := tc.HandleExpression(statement.Condition); !ok {
		return false, err
	}

	var diagnostics []error
	for _, stmt := range statement.ThenBlock {
		if _, err := tc.HandleStatement(stmt); err != nil {
			diagnostics = append(diagnostics, err)
		}
	}
	for _, stmt := range statement.ElseBlock {
		if _, err := tc.HandleStatement(stmt); err != nil {
			diagnostics = append(diagnostics, err)
		}
	}

	if len(diagnostics) > 0 {
		return false, diagnostics[0]
	}
	return true, nil
}

func (tc *TypeChecker) HandleWhileStmt(statement WhileStmt) (bool, error) {
	if ok, err := tc.HandleExpression(statement.Condition); !ok {
		return false, err
	}

	var diagnostics []error
	for _, stmt := range statement.Block {
		if _, err := tc.HandleStatement(stmt); err != nil {
			diagnostics = append(diagnostics, err)
		}
	}

	if len(diagnostics) > 0 {
		return false, diagnostics[0]
	}
	return true, nil
}

// Generalized function to type-check multiple expression types, resolving every name
// reference (variables, array bases, call targets) against the scopes currently active.
func (tc *TypeChecker) HandleExpression(expr Expression) (bool, error) {
	switch tExpr := expr.(type) {
	case VarExpr:
		if tExpr.Var == "this" {
			return true, nil
		}
		if _, _, err := tc.scopes.ResolveVariable(tExpr.Var); err != nil {
			return false, fmt.Errorf("%s: %w", tExpr.Span, err)
		}
		return true, nil

	case LiteralExpr:
		return true, nil

	case ArrayExpr:
		if _, _, err := tc.scopes.ResolveVariable(tExpr.Var); err != nil {
			return false, fmt.Errorf("%s: %w", tExpr.Span, err)
		}
		return tc.HandleExpression(tExpr.Index)

	case UnaryExpr:
		return tc.HandleExpression(tExpr.Rhs)

	case BinaryExpr:
		if ok, err := tc.HandleExpression(tExpr.Lhs); !ok {
			return false, err
		}
		return tc.HandleExpression(tExpr.Rhs)

	case FuncCallExpr:
		return tc.HandleFuncCallExpr(tExpr)

	default:
		return false, fmt.Errorf("unrecognized expression: %T", expr)
	}
}

// Resolves a function/method/constructor call target: either against the current class
// (implicit calls), a variable in scope (instance calls) or a top-level class name
// (static/constructor calls), surfacing a diagnostic when none of those apply.
func (tc *TypeChecker) HandleFuncCallExpr(expression FuncCallExpr) (bool, error) {
	var diagnostics []error
	for _, arg := range expression.Arguments {
		if _, err := tc.HandleExpression(arg); err != nil {
			diagnostics = append(diagnostics, err)
		}
	}
	if len(diagnostics) > 0 {
		return false, diagnostics[0]
	}

	if !expression.IsExtCall {
		return true, nil // Resolved against the current class, verified structurally by the Lowerer
	}

	if _, _, err := tc.scopes.ResolveVariable(expression.Var); err == nil {
		return true, nil // Call on an in-scope variable (instance method call)
	}

	if _, exists := tc.program[expression.Var]; exists {
		return true, nil // Call on a top-level class name (static/constructor call)
	}

	if _, exists := StandardLibraryABI[expression.Var]; exists {
		return true, nil // Call into the Jack OS standard library
	}

	return false, fmt.Errorf("%s: '%s' is neither a variable nor a class in scope", expression.Span, expression.Var)
}

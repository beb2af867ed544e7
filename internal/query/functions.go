package query

import "github.com/Guizzs26/go-datasync/internal/query/ast"

// Wire function names.
const (
	FnStartsWith = "startswith"
	FnEndsWith   = "endswith"
	FnContains   = "contains"
	FnToLower    = "tolower"
	FnToUpper    = "toupper"
	FnTrim       = "trim"
	FnLength     = "length"
	FnConcat     = "concat"
	FnIndexOf    = "indexof"
	FnSubstring  = "substring"
	FnYear       = "year"
	FnMonth      = "month"
	FnDay        = "day"
	FnHour       = "hour"
	FnMinute     = "minute"
	FnSecond     = "second"
	FnCeiling    = "ceiling"
	FnFloor      = "floor"
	FnRound      = "round"
)

type wireFunc struct {
	minArgs, maxArgs int
	result           ast.Kind // KindUnknown means "same as the first argument"
}

var wireFunctions = map[string]wireFunc{
	FnStartsWith: {2, 2, ast.KindBool},
	FnEndsWith:   {2, 2, ast.KindBool},
	FnContains:   {2, 2, ast.KindBool},
	FnToLower:    {1, 1, ast.KindString},
	FnToUpper:    {1, 1, ast.KindString},
	FnTrim:       {1, 1, ast.KindString},
	FnLength:     {1, 1, ast.KindInt},
	FnConcat:     {2, 2, ast.KindString},
	FnIndexOf:    {2, 2, ast.KindInt},
	FnSubstring:  {2, 3, ast.KindString},
	FnYear:       {1, 1, ast.KindInt},
	FnMonth:      {1, 1, ast.KindInt},
	FnDay:        {1, 1, ast.KindInt},
	FnHour:       {1, 1, ast.KindInt},
	FnMinute:     {1, 1, ast.KindInt},
	FnSecond:     {1, 1, ast.KindInt},
	FnCeiling:    {1, 1, ast.KindUnknown},
	FnFloor:      {1, 1, ast.KindUnknown},
	FnRound:      {1, 1, ast.KindUnknown},
}

// wireCall builds a wire function call, inferring its result kind.
func wireCall(name string, args ...ast.Node) *ast.Call {
	kind := wireFunctions[name].result
	if kind == ast.KindUnknown && len(args) > 0 {
		kind = args[0].Type()
		if kind == ast.KindUnknown {
			kind = ast.KindFloat
		}
	}
	return &ast.Call{Name: name, Args: args, Result: kind}
}

// IsWireFunction reports whether name with argc arguments is part of the grammar.
func IsWireFunction(name string, argc int) bool {
	f, ok := wireFunctions[name]
	return ok && argc >= f.minArgs && argc <= f.maxArgs
}

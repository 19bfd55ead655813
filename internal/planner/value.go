package planner

import (
	"fmt"
	"strconv"

	"github.com/graphql-go/graphql/language/ast"
)

// present wraps a resolved literal/variable value together with
// whether it was actually present (a referenced variable that's absent
// from the variables map is *undefined*, not null, and must be
// dropped from the args map entirely -- spec §3 "stableArgs is the
// JSON of arguments with ... undefined removed").
type present struct {
	value interface{}
	ok    bool
}

// valueFromAST evaluates a parsed argument value against the supplied
// variables, resolving $variable references by name. It performs no
// schema-driven coercion (§1 non-goal: "schema validation beyond what
// is needed to normalize") -- it just produces the plain
// map/slice/scalar value the document's literal syntax describes.
func valueFromAST(v ast.Value, vars map[string]interface{}) present {
	if v == nil {
		return present{nil, true}
	}

	switch v := v.(type) {
	case *ast.Variable:
		name := v.Name.Value
		val, ok := vars[name]
		return present{val, ok}

	case *ast.IntValue:
		if n, err := strconv.Atoi(v.Value); err == nil {
			return present{n, true}
		}
		return present{v.Value, true}
	case *ast.FloatValue:
		if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
			return present{f, true}
		}
		return present{v.Value, true}
	case *ast.StringValue:
		return present{v.Value, true}
	case *ast.BooleanValue:
		return present{v.Value, true}
	case *ast.EnumValue:
		return present{v.Value, true}
	case *ast.NullValue:
		return present{nil, true}

	case *ast.ListValue:
		out := make([]interface{}, 0, len(v.Values))
		for _, item := range v.Values {
			p := valueFromAST(item, vars)
			if p.ok {
				out = append(out, p.value)
			}
		}
		return present{out, true}

	case *ast.ObjectValue:
		out := map[string]interface{}{}
		for _, f := range v.Fields {
			p := valueFromAST(f.Value, vars)
			if p.ok {
				out[f.Name.Value] = p.value
			}
		}
		return present{out, true}

	default:
		return present{nil, false}
	}
}

// argsFromAST builds the declared-argument map for a field/directive
// selection, renaming variable-referenced arguments to their schema
// (argument) name and dropping undefined ones.
func argsFromAST(args []*ast.Argument, vars map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, a := range args {
		p := valueFromAST(a.Value, vars)
		if p.ok {
			out[a.Name.Value] = p.value
		}
	}
	return out
}

// literalString extracts a plain string out of an argument AST value
// that is expected to be a literal (used for @connection's key/mode,
// which are not expected to reference variables).
func literalString(v ast.Value) (string, bool) {
	switch v := v.(type) {
	case *ast.StringValue:
		return v.Value, true
	case *ast.EnumValue:
		return v.Value, true
	default:
		return "", false
	}
}

func literalStringList(v ast.Value) ([]string, bool) {
	lv, ok := v.(*ast.ListValue)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(lv.Values))
	for _, item := range lv.Values {
		s, ok := literalString(item)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func findArgument(args []*ast.Argument, name string) (*ast.Argument, bool) {
	for _, a := range args {
		if a.Name.Value == name {
			return a, true
		}
	}
	return nil, false
}

func errf(format string, a ...interface{}) error {
	return fmt.Errorf(format, a...)
}

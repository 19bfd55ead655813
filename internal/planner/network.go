package planner

import (
	"strconv"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
)

// networkDocument renders doc back to GraphQL text, guaranteeing
// __typename on every object selection set and stripping the
// client-only @connection directive, while leaving every other
// directive, argument, and fragment untouched (spec §4.1, §6).
//
// This reprints from the parsed AST rather than slicing the original
// source text, since @connection can appear anywhere and __typename
// needs inserting at arbitrary nesting depth; it intentionally doesn't
// route through graphql-go/graphql's own printer package, whose
// Print(node) has no hook for injecting fields mid-traversal.
func networkDocument(doc *ast.Document) (string, error) {
	var buf strings.Builder
	for i, def := range doc.Definitions {
		if i > 0 {
			buf.WriteString("\n\n")
		}
		switch d := def.(type) {
		case *ast.OperationDefinition:
			printOperation(&buf, d)
		case *ast.FragmentDefinition:
			printFragment(&buf, d)
		}
	}
	return buf.String(), nil
}

func printOperation(buf *strings.Builder, op *ast.OperationDefinition) {
	kind := op.Operation
	if kind == "" {
		kind = "query"
	}
	buf.WriteString(kind)
	if op.Name != nil {
		buf.WriteByte(' ')
		buf.WriteString(op.Name.Value)
	}
	if len(op.VariableDefinitions) > 0 {
		buf.WriteByte('(')
		for i, v := range op.VariableDefinitions {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteByte('$')
			buf.WriteString(v.Variable.Name.Value)
			buf.WriteString(": ")
			buf.WriteString(printType(v.Type))
			if v.DefaultValue != nil {
				buf.WriteString(" = ")
				buf.WriteString(printValue(v.DefaultValue))
			}
		}
		buf.WriteByte(')')
	}
	buf.WriteByte(' ')
	printSelectionSet(buf, op.SelectionSet, true)
}

func printFragment(buf *strings.Builder, f *ast.FragmentDefinition) {
	buf.WriteString("fragment ")
	buf.WriteString(f.Name.Value)
	buf.WriteString(" on ")
	if f.TypeCondition != nil && f.TypeCondition.Name != nil {
		buf.WriteString(f.TypeCondition.Name.Value)
	}
	buf.WriteByte(' ')
	printSelectionSet(buf, f.SelectionSet, true)
}

// printSelectionSet prints ss, injecting __typename as the first
// selection when injectTypename is true and it isn't already present.
func printSelectionSet(buf *strings.Builder, ss *ast.SelectionSet, injectTypename bool) {
	if ss == nil {
		return
	}
	buf.WriteByte('{')
	buf.WriteByte(' ')

	if injectTypename && !hasTypename(ss) {
		buf.WriteString("__typename ")
	}

	for _, sel := range ss.Selections {
		printSelection(buf, sel)
		buf.WriteByte(' ')
	}
	buf.WriteByte('}')
}

func hasTypename(ss *ast.SelectionSet) bool {
	for _, sel := range ss.Selections {
		if f, ok := sel.(*ast.Field); ok && f.Alias == nil && f.Name.Value == "__typename" {
			return true
		}
	}
	return false
}

func printSelection(buf *strings.Builder, sel ast.Selection) {
	switch s := sel.(type) {
	case *ast.Field:
		printField(buf, s)
	case *ast.FragmentSpread:
		buf.WriteString("...")
		buf.WriteString(s.Name.Value)
		printDirectives(buf, s.Directives)
	case *ast.InlineFragment:
		buf.WriteString("... ")
		if s.TypeCondition != nil && s.TypeCondition.Name != nil {
			buf.WriteString("on ")
			buf.WriteString(s.TypeCondition.Name.Value)
			buf.WriteByte(' ')
		}
		printDirectives(buf, s.Directives)
		printSelectionSet(buf, s.SelectionSet, true)
	}
}

func printField(buf *strings.Builder, f *ast.Field) {
	if f.Alias != nil {
		buf.WriteString(f.Alias.Value)
		buf.WriteString(": ")
	}
	buf.WriteString(f.Name.Value)

	if len(f.Arguments) > 0 {
		buf.WriteByte('(')
		for i, a := range f.Arguments {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(a.Name.Value)
			buf.WriteString(": ")
			buf.WriteString(printValue(a.Value))
		}
		buf.WriteByte(')')
	}

	printDirectives(buf, stripConnection(f.Directives))

	if f.SelectionSet != nil {
		buf.WriteByte(' ')
		printSelectionSet(buf, f.SelectionSet, true)
	}
}

func stripConnection(dirs []*ast.Directive) []*ast.Directive {
	out := make([]*ast.Directive, 0, len(dirs))
	for _, d := range dirs {
		if d.Name.Value != "connection" {
			out = append(out, d)
		}
	}
	return out
}

func printDirectives(buf *strings.Builder, dirs []*ast.Directive) {
	for _, d := range dirs {
		buf.WriteByte(' ')
		buf.WriteByte('@')
		buf.WriteString(d.Name.Value)
		if len(d.Arguments) > 0 {
			buf.WriteByte('(')
			for i, a := range d.Arguments {
				if i > 0 {
					buf.WriteString(", ")
				}
				buf.WriteString(a.Name.Value)
				buf.WriteString(": ")
				buf.WriteString(printValue(a.Value))
			}
			buf.WriteByte(')')
		}
	}
}

func printType(t ast.Type) string {
	switch t := t.(type) {
	case *ast.Named:
		return t.Name.Value
	case *ast.List:
		return "[" + printType(t.Type) + "]"
	case *ast.NonNull:
		return printType(t.Type) + "!"
	default:
		return ""
	}
}

func printValue(v ast.Value) string {
	if v == nil {
		return "null"
	}
	switch v := v.(type) {
	case *ast.Variable:
		return "$" + v.Name.Value
	case *ast.IntValue:
		return v.Value
	case *ast.FloatValue:
		return v.Value
	case *ast.StringValue:
		return strconv.Quote(v.Value)
	case *ast.BooleanValue:
		return strconv.FormatBool(v.Value)
	case *ast.EnumValue:
		return v.Value
	case *ast.NullValue:
		return "null"
	case *ast.ListValue:
		parts := make([]string, len(v.Values))
		for i, item := range v.Values {
			parts[i] = printValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *ast.ObjectValue:
		parts := make([]string, len(v.Fields))
		for i, f := range v.Fields {
			parts[i] = f.Name.Value + ": " + printValue(f.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "null"
	}
}

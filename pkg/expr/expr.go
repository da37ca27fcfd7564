// Package expr evaluates workflow `if:` conditions and `${{ ... }}`
// interpolations.
//
// Conditions are HCL expressions; interpolations embed HCL expressions in
// otherwise-literal strings.  Both evaluate against a Scope of run context
// (ref/event), matrix values, and environment variables.
package expr

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Scope is the variable environment that conditions and interpolations
// evaluate against.
type Scope struct {
	// Ref is the full ref string, such as "refs/tags/v1.2.3" or
	// "refs/heads/main".
	Ref string
	// Event is the event kind, such as "push" or "pull_request".
	Event string
	// Matrix holds the current leg's matrix values, keyed by dimension.
	Matrix map[string]string
	// Env holds the resolved environment variables visible to the
	// expression.
	Env map[string]string
}

// RefType classifies a ref string as "branch", "tag", or "" for anything
// else.
func RefType(ref string) string {
	switch {
	case strings.HasPrefix(ref, "refs/heads/"):
		return "branch"
	case strings.HasPrefix(ref, "refs/tags/"):
		return "tag"
	default:
		return ""
	}
}

// RefName strips the "refs/heads/" or "refs/tags/" prefix from a ref string;
// other refs are returned unmodified.
func RefName(ref string) string {
	ref = strings.TrimPrefix(ref, "refs/heads/")
	ref = strings.TrimPrefix(ref, "refs/tags/")
	return ref
}

func ctyObject(m map[string]string) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	vals := make(map[string]cty.Value, len(m))
	for k, v := range m {
		vals[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(vals)
}

func (scope *Scope) evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"ref":      cty.StringVal(scope.Ref),
			"ref_name": cty.StringVal(RefName(scope.Ref)),
			"ref_type": cty.StringVal(RefType(scope.Ref)),
			"event":    cty.StringVal(scope.Event),
			"matrix":   ctyObject(scope.Matrix),
			"env":      ctyObject(scope.Env),
		},
		Functions: scopeFunctions,
	}
}

func strBoolFunc(argName string, fn func(s, arg string) bool) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "str", Type: cty.String},
			{Name: argName, Type: cty.String},
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.BoolVal(fn(args[0].AsString(), args[1].AsString())), nil
		},
	})
}

// coalesceFunc returns its first argument that is neither null nor empty;
// unlike the cty stdlib coalesce, an empty string is skippable.
//
//nolint:gochecknoglobals // Would be 'const'.
var coalesceFunc = function.New(&function.Spec{
	VarParam: &function.Parameter{
		Name:      "vals",
		Type:      cty.String,
		AllowNull: true,
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		for _, arg := range args {
			if arg.IsNull() || arg.AsString() == "" {
				continue
			}
			return arg, nil
		}
		return cty.StringVal(""), nil
	},
})

//nolint:gochecknoglobals // Would be 'const'.
var scopeFunctions = map[string]function.Function{
	"startswith": strBoolFunc("prefix", strings.HasPrefix),
	"endswith":   strBoolFunc("suffix", strings.HasSuffix),
	"contains":   strBoolFunc("substr", strings.Contains),
	"coalesce":   coalesceFunc,
	"format":     stdlib.FormatFunc,
}

// Validate checks that src parses as a condition expression, without
// evaluating it.  An empty condition is valid.
func Validate(src string) error {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	_, diags := hclsyntax.ParseExpression([]byte(src), "<if>", hcl.InitialPos)
	if diags.HasErrors() {
		return fmt.Errorf("parse condition %q: %w", src, error(diags))
	}
	return nil
}

// ValidateTemplate checks that every ${{ ... }} interpolation in src parses,
// without evaluating any of them.
func ValidateTemplate(src string) error {
	_, err := expand(src, func(exprSrc string) (string, error) {
		_, diags := hclsyntax.ParseExpression([]byte(exprSrc), "<template>", hcl.InitialPos)
		if diags.HasErrors() {
			return "", fmt.Errorf("parse ${{%s}}: %w", exprSrc, error(diags))
		}
		return "", nil
	})
	return err
}

// EvalBool evaluates a condition expression against the scope.  An empty
// condition is true; a null result is false.
func EvalBool(scope *Scope, src string) (bool, error) {
	if strings.TrimSpace(src) == "" {
		return true, nil
	}
	hclExpr, diags := hclsyntax.ParseExpression([]byte(src), "<if>", hcl.InitialPos)
	if diags.HasErrors() {
		return false, fmt.Errorf("parse condition %q: %w", src, error(diags))
	}
	val, diags := hclExpr.Value(scope.evalContext())
	if diags.HasErrors() {
		return false, fmt.Errorf("evaluate condition %q: %w", src, error(diags))
	}
	if val.IsNull() {
		return false, nil
	}
	val, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", src, err)
	}
	return val.True(), nil
}

// Expand replaces every ${{ ... }} interpolation in src with the string value
// of the enclosed expression.  Literal text passes through untouched (shell
// `${VAR}` references in particular); the sequence `$${{` produces a literal
// `${{`.
func Expand(scope *Scope, src string) (string, error) {
	return expand(src, func(exprSrc string) (string, error) {
		return evalString(scope, exprSrc)
	})
}

func expand(src string, eval func(exprSrc string) (string, error)) (string, error) {
	if !strings.Contains(src, "${{") {
		return src, nil
	}
	var out strings.Builder
	rest := src
	for {
		i := strings.Index(rest, "${{")
		if i < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		if strings.HasSuffix(rest[:i], "$") {
			out.WriteString(rest[:i-1])
			out.WriteString("${{")
			rest = rest[i+len("${{"):]
			continue
		}
		out.WriteString(rest[:i])
		rest = rest[i+len("${{"):]
		j := strings.Index(rest, "}}")
		if j < 0 {
			return "", fmt.Errorf("unterminated ${{ in %q", src)
		}
		val, err := eval(rest[:j])
		if err != nil {
			return "", err
		}
		out.WriteString(val)
		rest = rest[j+len("}}"):]
	}
}

func evalString(scope *Scope, src string) (string, error) {
	hclExpr, diags := hclsyntax.ParseExpression([]byte(src), "<template>", hcl.InitialPos)
	if diags.HasErrors() {
		return "", fmt.Errorf("parse ${{%s}}: %w", src, error(diags))
	}
	val, diags := hclExpr.Value(scope.evalContext())
	if diags.HasErrors() {
		return "", fmt.Errorf("evaluate ${{%s}}: %w", src, error(diags))
	}
	if val.IsNull() {
		return "", fmt.Errorf("${{%s}}: value is null", src)
	}
	val, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("${{%s}}: %w", src, err)
	}
	return val.AsString(), nil
}

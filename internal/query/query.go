// Package query describes GraphQL query fragments contributed by sync
// participants and merges them into a single outbound document.
package query

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Argument is a typed variable accepted by a Fragment, e.g. {Name: "after", Type: "String"}.
type Argument struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// Fragment is one participant's slice of the merged document.
//
// Name doubles as the variable namespace prefix and as the response key, so it
// must be unique among fragments merged into one document. Body is the
// selection placed inside the operation and refers to its own arguments as
// $<arg>.
type Fragment struct {
	Name         string
	Body         string
	Arguments    []Argument
	FragmentRefs []string
}

// Request pairs a Fragment with the variable values for one round.
type Request struct {
	Query     Fragment
	Variables map[string]any
}

// VariableName returns the namespaced variable name for arg, e.g. "experiences" +
// "after" -> "experiencesAfter".
func (f Fragment) VariableName(arg string) string {
	return f.Name + capitalize(arg)
}

// Signature returns the comma-joined variable declarations for the fragment's
// arguments, or "" when it has none.
func (f Fragment) Signature() string {
	if len(f.Arguments) == 0 {
		return ""
	}
	decls := make([]string, 0, len(f.Arguments))
	for _, arg := range f.Arguments {
		decls = append(decls, "$"+f.VariableName(arg.Name)+":"+arg.Type)
	}
	return strings.Join(decls, ", ")
}

var variableRef = regexp.MustCompile(`^\$[A-Za-z_][A-Za-z0-9_]*`)

// NamespacedBody rewrites every $<arg> reference to one of the fragment's own
// arguments into its namespaced form. References to names that are not
// arguments of this fragment are left untouched, as is anything inside string
// literals and comments.
func (f Fragment) NamespacedBody() string {
	if len(f.Arguments) == 0 {
		return f.Body
	}
	own := make(map[string]struct{}, len(f.Arguments))
	for _, arg := range f.Arguments {
		own[arg.Name] = struct{}{}
	}

	body := f.Body
	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); {
		switch body[i] {
		case '"':
			end := literalEnd(body, i)
			b.WriteString(body[i:end])
			i = end
		case '#':
			end := commentEnd(body, i)
			b.WriteString(body[i:end])
			i = end
		case '$':
			ref := variableRef.FindString(body[i:])
			if ref == "" {
				b.WriteByte('$')
				i++
				continue
			}
			if _, ok := own[ref[1:]]; ok {
				b.WriteString("$" + f.VariableName(ref[1:]))
			} else {
				b.WriteString(ref)
			}
			i += len(ref)
		default:
			b.WriteByte(body[i])
			i++
		}
	}
	return b.String()
}

// NamespacedVariables re-keys the request's variables with the fragment name
// as prefix.
func (r Request) NamespacedVariables() map[string]any {
	out := make(map[string]any, len(r.Variables))
	for k, v := range r.Variables {
		out[r.Query.VariableName(k)] = v
	}
	return out
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

package query

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// OperationName is the name of the merged operation sent on every round.
const OperationName = "Sync"

// Document is the merged wire form of a batch of requests.
type Document struct {
	Query     string
	Variables map[string]any
	Fragments []string
}

// Merge combines requests into one document of the form
//
//	query Sync($aFirst:Int, $bAfter:String) { aBody bBody }
//
// Variables are re-keyed as <queryName><ArgName> so fragments never collide.
// Request names must be unique; duplicates produce an undefined document.
// Fragment references are de-duplicated in first-seen order.
func Merge(requests []Request) Document {
	var (
		signatures []string
		bodies     []string
		fragments  []string
		seen       = make(map[string]struct{})
		variables  = make(map[string]any)
	)

	for _, req := range requests {
		if sig := req.Query.Signature(); sig != "" {
			signatures = append(signatures, sig)
		}
		bodies = append(bodies, req.Query.NamespacedBody())
		for k, v := range req.NamespacedVariables() {
			variables[k] = v
		}
		for _, ref := range req.Query.FragmentRefs {
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			fragments = append(fragments, ref)
		}
	}

	var b strings.Builder
	b.WriteString("query ")
	b.WriteString(OperationName)
	if len(signatures) > 0 {
		b.WriteString("(")
		b.WriteString(strings.Join(signatures, ", "))
		b.WriteString(")")
	}
	b.WriteString(" { ")
	b.WriteString(strings.Join(bodies, " "))
	b.WriteString(" }")

	return Document{
		Query:     Collapse(b.String()),
		Variables: variables,
		Fragments: fragments,
	}
}

// Collapse squeezes every run of whitespace outside string literals into a
// single space and trims the ends. Comments (# to end of line) are dropped
// and count as whitespace, since on one line they would swallow the rest of
// the document. The content of "..." and """...""" literals is kept as is.
func Collapse(s string) string {
	var (
		b       strings.Builder
		pending bool
	)
	b.Grow(len(s))

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			pending = b.Len() > 0
			i++
		case c == '#':
			pending = b.Len() > 0
			i = commentEnd(s, i)
		case c == '"':
			if pending {
				b.WriteByte(' ')
				pending = false
			}
			end := literalEnd(s, i)
			b.WriteString(s[i:end])
			i = end
		default:
			if pending {
				b.WriteByte(' ')
				pending = false
			}
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// literalEnd returns the index just past the string literal starting at i.
func literalEnd(s string, i int) int {
	if strings.HasPrefix(s[i:], `"""`) {
		if j := strings.Index(s[i+3:], `"""`); j >= 0 {
			return i + 3 + j + 3
		}
		return len(s)
	}
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return len(s)
}

// commentEnd returns the index of the line break ending the comment that
// starts at i, or len(s).
func commentEnd(s string, i int) int {
	if j := strings.IndexAny(s[i:], "\r\n"); j >= 0 {
		return i + j
	}
	return len(s)
}

// Check parses the merged query and reports syntax errors. It does not
// validate against a schema.
func Check(doc Document) error {
	parsed, err := parser.ParseQuery(&ast.Source{Name: OperationName, Input: doc.Query})
	if err != nil {
		return fmt.Errorf("merged document does not parse: %w", err)
	}
	if len(parsed.Operations) != 1 {
		return fmt.Errorf("merged document has %d operations, want 1", len(parsed.Operations))
	}
	return nil
}

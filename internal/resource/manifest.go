// Package resource turns a YAML manifest of GraphQL connections into paging
// participants that cache every node in the local store.
package resource

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/syncpoint/internal/query"
)

const (
	// DefaultCursorArgument is the argument that receives the stored cursor.
	DefaultCursorArgument = "after"

	// DefaultIDField is the node field used as record id.
	DefaultIDField = "id"
)

// ErrInvalidManifest wraps every manifest validation failure.
var ErrInvalidManifest = errors.New("invalid manifest")

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Manifest is the parsed resources file.
type Manifest struct {
	Resources []Resource `yaml:"resources"`
}

// Resource declares one synced connection.
//
// Example:
//
//	- name: experiences
//	  body: "experiences(first: $first, after: $after) { nodes { id name } pageInfo { endCursor hasNextPage } }"
//	  arguments: [{name: first, type: Int}, {name: after, type: String}]
//	  variables: {first: 50}
//	  cursor: experiences
type Resource struct {
	// Name is the query name and the response key.
	Name string `yaml:"name"`

	// Body is the selection, referring to its arguments as $<arg>.
	Body string `yaml:"body"`

	Arguments []query.Argument `yaml:"arguments"`

	// Variables are fixed values sent with every page.
	Variables map[string]any `yaml:"variables"`

	// Cursor is the cursor key. Empty means a single page per sync.
	Cursor string `yaml:"cursor"`

	// CursorArgument is the argument set to the stored cursor (default "after").
	CursorArgument string `yaml:"cursorArgument"`

	// ID is the node field used as record id (default "id").
	ID string `yaml:"id"`

	// Fragments lists named fragments the body spreads.
	Fragments []string `yaml:"fragments"`
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes data, fills defaults and validates the result.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	for i := range m.Resources {
		m.Resources[i].applyDefaults()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Resource) applyDefaults() {
	if r.CursorArgument == "" {
		r.CursorArgument = DefaultCursorArgument
	}
	if r.ID == "" {
		r.ID = DefaultIDField
	}
}

// Validate checks names, arguments and cursor wiring of every resource.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool)
	cursors := make(map[string]string)

	for i, r := range m.Resources {
		if !identifier.MatchString(r.Name) {
			return fmt.Errorf("%w: resource %d: name %q is not a GraphQL identifier", ErrInvalidManifest, i, r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: resource %s declared twice", ErrInvalidManifest, r.Name)
		}
		seen[r.Name] = true

		if strings.TrimSpace(r.Body) == "" {
			return fmt.Errorf("%w: resource %s: body is required", ErrInvalidManifest, r.Name)
		}

		args := make(map[string]bool)
		for _, a := range r.Arguments {
			if !identifier.MatchString(a.Name) {
				return fmt.Errorf("%w: resource %s: argument name %q is not a GraphQL identifier", ErrInvalidManifest, r.Name, a.Name)
			}
			if strings.TrimSpace(a.Type) == "" {
				return fmt.Errorf("%w: resource %s: argument %s has no type", ErrInvalidManifest, r.Name, a.Name)
			}
			if args[a.Name] {
				return fmt.Errorf("%w: resource %s: argument %s declared twice", ErrInvalidManifest, r.Name, a.Name)
			}
			args[a.Name] = true
		}

		for name := range r.Variables {
			if !args[name] {
				return fmt.Errorf("%w: resource %s: variable %s is not a declared argument", ErrInvalidManifest, r.Name, name)
			}
		}

		if r.Cursor != "" {
			if !args[r.CursorArgument] {
				return fmt.Errorf("%w: resource %s: cursor argument %s is not declared", ErrInvalidManifest, r.Name, r.CursorArgument)
			}
			if other, ok := cursors[r.Cursor]; ok {
				return fmt.Errorf("%w: resources %s and %s share cursor key %s", ErrInvalidManifest, other, r.Name, r.Cursor)
			}
			cursors[r.Cursor] = r.Name
		}
	}
	return nil
}

// Names returns the resource names in manifest order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.Resources))
	for i, r := range m.Resources {
		names[i] = r.Name
	}
	return names
}

// Fragment returns the query fragment of r.
func (r Resource) Fragment() query.Fragment {
	return query.Fragment{
		Name:         r.Name,
		Body:         r.Body,
		Arguments:    r.Arguments,
		FragmentRefs: r.Fragments,
	}
}

// Request builds the request for the page after cursor. The fixed variables
// are copied so requests never share a map.
func (r Resource) Request(cursor string) query.Request {
	vars := make(map[string]any, len(r.Variables)+1)
	for k, v := range r.Variables {
		vars[k] = v
	}
	if cursor != "" && r.Cursor != "" {
		vars[r.CursorArgument] = cursor
	}
	return query.Request{Query: r.Fragment(), Variables: vars}
}

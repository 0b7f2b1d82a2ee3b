package role

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/sephiroth74/go_permission_controller/packagemanager"
)

//go:embed roles.xml
var defaultRoles []byte

// Registry holds the parsed role definitions, immutable once loaded
type Registry struct {
	roles map[string]*Role
	order []*Role
}

func NewRegistry(roles ...*Role) *Registry {
	r := &Registry{roles: make(map[string]*Role, len(roles))}
	for _, role := range roles {
		if _, ok := r.roles[role.Name]; ok {
			continue
		}
		r.roles[role.Name] = role
		r.order = append(r.order, role)
	}
	return r
}

// LoadDefault parses the role definitions shipped with the module
func LoadDefault(pm packagemanager.PackageManager, strict bool) (*Registry, error) {
	parser := NewParser(pm, strict)
	parser.Path = "roles.xml"
	return parser.Parse(defaultRoles)
}

// LoadFile parses the role definitions of a file, an empty path loads the default ones
func LoadFile(path string, pm packagemanager.PackageManager, strict bool) (*Registry, error) {
	if path == "" {
		return LoadDefault(pm, strict)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles: %w", err)
	}
	parser := NewParser(pm, strict)
	parser.Path = path
	return parser.Parse(data)
}

func (r *Registry) Get(name string) (*Role, error) {
	role, ok := r.roles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, name)
	}
	return role, nil
}

// Roles returns the roles in definition order
func (r *Registry) Roles() []*Role {
	return append([]*Role(nil), r.order...)
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	for i, role := range r.order {
		names[i] = role.Name
	}
	return names
}

func (r *Registry) Len() int {
	return len(r.order)
}

package dialplan

import "strings"

// InheritMode controls channel variable inheritance.
type InheritMode string

const (
	InheritNone     InheritMode = "none"
	Inherit         InheritMode = "inherit"
	InheritChildren InheritMode = "inherit_children"
)

func (m InheritMode) prefix() string {
	switch m {
	case Inherit:
		return "_"
	case InheritChildren:
		return "__"
	default:
		return ""
	}
}

// Set assigns a channel variable.
type Set struct {
	Name    string
	Value   string
	Inherit InheritMode
}

func (Set) AppName() string { return "Set" }

func (s Set) Assemble() (string, string) {
	return s.AppName(), s.Inherit.prefix() + s.Name + "=" + s.Value
}

func parseSet(appdata string) (Application, error) {
	name, value, ok := strings.Cut(appdata, "=")
	if !ok {
		return nil, nil
	}
	mode := InheritNone
	switch {
	case strings.HasPrefix(name, "__"):
		name, mode = name[2:], InheritChildren
	case strings.HasPrefix(name, "_"):
		name, mode = name[1:], Inherit
	}
	return Set{Name: name, Value: value, Inherit: mode}, nil
}

package flavor

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/uuru/uuru/internal/apperr"
)

var validate = validator.New()

// Field describes one extra field of a phone type.
type Field struct {
	Name        string
	Title       string
	Description string
	Required    bool
	Default     string

	// Pattern is an anchored regular expression the value must match.
	Pattern string
	// Rules are validator tags, e.g. "max=64,printascii".
	Rules string
	// Normalize rewrites the value before it is checked.
	Normalize func(string) string
	// Unique values identify a single extension, e.g. a provisioning key.
	Unique bool
}

// Schema is the ordered set of extra fields of a flavor.
type Schema []Field

// Validate checks fields against the schema and returns the normalized
// values. Unknown keys are rejected and missing optional keys take their
// default.
func (s Schema) Validate(fields map[string]string) (map[string]string, error) {
	known := make(map[string]bool, len(s))
	for _, f := range s {
		known[f.Name] = true
	}
	for k := range fields {
		if !known[k] {
			return nil, apperr.Invalid("unknown extra field %q", k)
		}
	}

	out := make(map[string]string, len(s))
	for _, f := range s {
		v, ok := fields[f.Name]
		if !ok || v == "" {
			if f.Required {
				return nil, apperr.Invalid("extra field %q is required", f.Name)
			}
			if f.Default != "" {
				out[f.Name] = f.Default
			}
			continue
		}
		if f.Normalize != nil {
			v = f.Normalize(v)
		}
		if err := f.check(v); err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func (f Field) check(v string) error {
	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("compiling pattern of field %s: %w", f.Name, err)
		}
		if !re.MatchString(v) {
			return apperr.Invalid("extra field %q must match %s", f.Name, f.Pattern)
		}
	}
	if f.Rules != "" {
		if err := validate.Var(v, f.Rules); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return apperr.Invalid("extra field %q failed %q", f.Name, verrs[0].Tag())
			}
			return apperr.Invalid("extra field %q is invalid", f.Name)
		}
	}
	return nil
}

// JSONSchema renders the schema as a JSON schema object, or nil when the
// flavor has no extra fields.
func (s Schema) JSONSchema(title string) map[string]any {
	if len(s) == 0 {
		return nil
	}
	props := make(map[string]any, len(s))
	var required []string
	for _, f := range s {
		p := map[string]any{"type": "string", "title": f.title()}
		if f.Description != "" {
			p["description"] = f.Description
		}
		if f.Pattern != "" {
			p["pattern"] = f.Pattern
		}
		if f.Default != "" {
			p["default"] = f.Default
		}
		props[f.Name] = p
		if f.Required {
			required = append(required, f.Name)
		}
	}
	sort.Strings(required)
	out := map[string]any{
		"title":      title,
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func (f Field) title() string {
	if f.Title != "" {
		return f.Title
	}
	return strings.ToUpper(f.Name[:1]) + f.Name[1:]
}

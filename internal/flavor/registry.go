package flavor

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-chi/chi/v5"
)

// ErrUnknownType is returned for a phone type no registered flavor claims.
var ErrUnknownType = errors.New("flavor: unknown phone type")

// Registry indexes the enabled flavors. It is built once at startup and
// read only afterwards.
type Registry struct {
	flavors        []Flavor // ordered by descending DisplayIndex
	byName         map[string]Flavor
	byType         map[string]Flavor
	types          []string
	allTypesPublic bool
}

// TypeInfo describes one selectable phone type.
type TypeInfo struct {
	Type         string         `json:"type"`
	Flavor       string         `json:"flavor"`
	Public       bool           `json:"public"`
	MaxNameChars int            `json:"max_name_chars"`
	ExtraFields  map[string]any `json:"extra_fields,omitempty"`
	Media        []MediaSlot    `json:"media,omitempty"`
}

// NewRegistry indexes flavors. Flavor names and phone types must be unique.
func NewRegistry(allTypesPublic bool, flavors ...Flavor) (*Registry, error) {
	r := &Registry{
		byName:         make(map[string]Flavor, len(flavors)),
		byType:         make(map[string]Flavor),
		allTypesPublic: allTypesPublic,
	}
	for _, f := range flavors {
		m := f.Metadata()
		if m.Key() == "" {
			return nil, fmt.Errorf("flavor without name")
		}
		if _, dup := r.byName[m.Key()]; dup {
			return nil, fmt.Errorf("duplicate flavor name %q", m.Key())
		}
		r.byName[m.Key()] = f
		for _, t := range m.PhoneTypes {
			if other, dup := r.byType[t]; dup {
				return nil, fmt.Errorf("phone type %q claimed by %s and %s", t, other.Metadata().Key(), m.Key())
			}
			r.byType[t] = f
		}
		for _, c := range m.TypeCodecs {
			if err := CheckCodec(c); err != nil {
				return nil, fmt.Errorf("flavor %s: %w", m.Key(), err)
			}
		}
		if m.Codec != "" {
			if err := CheckCodec(m.Codec); err != nil {
				return nil, fmt.Errorf("flavor %s: %w", m.Key(), err)
			}
		}
		r.flavors = append(r.flavors, f)
		slog.Info("telephoning: registered phone flavor", "flavor", m.Key(), "types", m.PhoneTypes)
	}

	sort.SliceStable(r.flavors, func(i, j int) bool {
		return r.flavors[i].Metadata().DisplayIndex > r.flavors[j].Metadata().DisplayIndex
	})
	for _, f := range r.flavors {
		r.types = append(r.types, f.Metadata().PhoneTypes...)
	}
	return r, nil
}

// Lookup returns the flavor owning phoneType.
func (r *Registry) Lookup(phoneType string) (Flavor, error) {
	f, ok := r.byType[phoneType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, phoneType)
	}
	return f, nil
}

// ByName returns the flavor with the given lowercase name.
func (r *Registry) ByName(name string) (Flavor, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// Flavors returns the flavors in display order.
func (r *Registry) Flavors() []Flavor {
	return append([]Flavor(nil), r.flavors...)
}

// Types returns every phone type in display order.
func (r *Registry) Types() []string {
	return append([]string(nil), r.types...)
}

// IsPublic reports whether non-admin users may create extensions of f.
func (r *Registry) IsPublic(f Flavor) bool {
	return r.allTypesPublic || !f.Metadata().IsSpecial
}

// Schemas maps each phone type with extra fields to its JSON schema.
func (r *Registry) Schemas() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, t := range r.types {
		m := r.byType[t].Metadata()
		if s := m.ExtraFields.JSONSchema(m.Name + "ExtraFields"); s != nil {
			out[t] = s
		}
	}
	return out
}

// Describe lists every phone type with its policy, schema and media slots.
func (r *Registry) Describe() []TypeInfo {
	out := make([]TypeInfo, 0, len(r.types))
	for _, t := range r.types {
		f := r.byType[t]
		m := f.Metadata()
		out = append(out, TypeInfo{
			Type:         t,
			Flavor:       m.Key(),
			Public:       r.IsPublic(f),
			MaxNameChars: m.NameLimit(),
			ExtraFields:  m.ExtraFields.JSONSchema(m.Name + "ExtraFields"),
			Media:        m.Media,
		})
	}
	return out
}

// Mount adds each route providing flavor below /{flavor name}.
func (r *Registry) Mount(router chi.Router) {
	for _, f := range r.flavors {
		rp, ok := f.(RouteProvider)
		if !ok {
			continue
		}
		router.Route("/"+f.Metadata().Key(), rp.Routes)
		slog.Debug("telephoning: mounted flavor routes", "flavor", f.Metadata().Key())
	}
}

// Jobs returns the periodic jobs of all flavors that have one.
func (r *Registry) Jobs() []Job {
	var jobs []Job
	for _, f := range r.flavors {
		j, ok := f.(Jobber)
		if !ok {
			continue
		}
		m := f.Metadata()
		interval := m.JobInterval
		if interval <= 0 {
			interval = DefaultJobInterval
		}
		jobs = append(jobs, Job{Name: m.Key(), Interval: interval, Run: j.Job})
	}
	return jobs
}

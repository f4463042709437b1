package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// flag.Value implementations for the list-valued settings. Set always
// replaces the current value so env and file overrides do not append to
// defaults.

type stringList []string

func (l *stringList) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *stringList) Set(s string) error {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*l = out
	return nil
}

func parseRange(s string) (Reservation, error) {
	s = strings.TrimSpace(s)
	lo, hi, isRange := strings.Cut(s, "-")
	low, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return Reservation{}, fmt.Errorf("invalid extension %q", s)
	}
	if !isRange {
		return Reservation{Low: low, High: low}, nil
	}
	high, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return Reservation{}, fmt.Errorf("invalid range %q", s)
	}
	if high < low {
		return Reservation{}, fmt.Errorf("range %q is reversed", s)
	}
	return Reservation{Low: low, High: high}, nil
}

type reservationList []Reservation

func (l *reservationList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, len(*l))
	for i, r := range *l {
		parts[i] = r.String()
	}
	return strings.Join(parts, ",")
}

func (l *reservationList) Set(s string) error {
	var out []Reservation
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := parseRange(part)
		if err != nil {
			return err
		}
		out = append(out, r)
	}
	*l = out
	return nil
}

// rangeValue accepts "lo-hi" or "lo,hi".
type rangeValue Reservation

func (r *rangeValue) String() string {
	if r == nil {
		return ""
	}
	return Reservation(*r).String()
}

func (r *rangeValue) Set(s string) error {
	parsed, err := parseRange(strings.Replace(s, ",", "-", 1))
	if err != nil {
		return err
	}
	*r = rangeValue(parsed)
	return nil
}

type codecMap map[string]string

func (m *codecMap) String() string {
	if m == nil || *m == nil {
		return ""
	}
	keys := make([]string, 0, len(*m))
	for k := range *m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + (*m)[k]
	}
	return strings.Join(parts, ",")
}

func (m *codecMap) Set(s string) error {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return fmt.Errorf("invalid codec mapping %q", part)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	*m = out
	return nil
}

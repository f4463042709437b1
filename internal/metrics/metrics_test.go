package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeExtensions map[string]int64

func (f fakeExtensions) CountByType(context.Context) (map[string]int64, error) { return f, nil }

type fakeCount struct {
	n   int64
	err error
}

func (f fakeCount) CountOnline(context.Context) (int64, error) { return f.n, f.err }
func (f fakeCount) Count(context.Context) (int64, error)       { return f.n, f.err }

type fakeSessions int

func (f fakeSessions) Active() int { return int(f) }

func gather(t *testing.T, c *Collector) map[string][]float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	out := make(map[string][]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			out[mf.GetName()] = append(out[mf.GetName()], m.GetGauge().GetValue())
		}
	}
	return out
}

func TestCollector(t *testing.T) {
	c := NewCollector(
		fakeExtensions{"SIP": 3, "DECT": 2},
		fakeCount{n: 4},
		fakeCount{n: 1},
		fakeSessions(5),
		time.Now().Add(-time.Minute),
	)
	got := gather(t, c)

	if len(got["uuru_extensions"]) != 2 {
		t.Errorf("uuru_extensions = %v, want one series per type", got["uuru_extensions"])
	}
	for name, want := range map[string]float64{
		"uuru_extensions_online": 4,
		"uuru_federation_peers":  1,
		"uuru_websip_sessions":   5,
	} {
		if v := got[name]; len(v) != 1 || v[0] != want {
			t.Errorf("%s = %v, want %v", name, v, want)
		}
	}
	if up := got["uuru_uptime_seconds"]; len(up) != 1 || up[0] < 60 {
		t.Errorf("uuru_uptime_seconds = %v", up)
	}
}

func TestCollectorSkipsFailingProviders(t *testing.T) {
	failing := fakeCount{err: errors.New("db down")}
	got := gather(t, NewCollector(nil, failing, failing, nil, time.Now()))

	for _, name := range []string{"uuru_extensions", "uuru_extensions_online", "uuru_federation_peers", "uuru_websip_sessions"} {
		if _, ok := got[name]; ok {
			t.Errorf("%s reported despite missing provider", name)
		}
	}
	if _, ok := got["uuru_uptime_seconds"]; !ok {
		t.Error("uptime missing")
	}
}

package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestNewProviders_ExportsToRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewProviders(context.Background(), ProviderConfig{
		ServiceVersion: "test",
		InstanceID:     "replica-1",
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordWindows(context.Background(), 3, 1)

	families := gather(t, reg)
	var found bool
	for name := range families {
		if strings.HasPrefix(name, "clearvox_windows_processed") {
			found = true
		}
	}
	if !found {
		t.Errorf("windows counter not exported; got families %v", keys(families))
	}

	info, ok := families["target_info"]
	if !ok || len(info.GetMetric()) == 0 {
		t.Fatal("target_info not exported")
	}
	labels := map[string]string{}
	for _, lp := range info.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	if labels["service_name"] != DefaultServiceName {
		t.Errorf("service_name = %q, want %q", labels["service_name"], DefaultServiceName)
	}
	if labels["service_instance_id"] != "replica-1" {
		t.Errorf("service_instance_id = %q, want replica-1", labels["service_instance_id"])
	}
}

func TestNewProviders_RandomInstanceID(t *testing.T) {
	a, err := newResource(ProviderConfig{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := newResource(ProviderConfig{})
	if err != nil {
		t.Fatal(err)
	}
	idA, _ := a.Set().Value("service.instance.id")
	idB, _ := b.Set().Value("service.instance.id")
	if idA.AsString() == "" || idA.AsString() == idB.AsString() {
		t.Errorf("instance ids %q and %q, want distinct non-empty", idA.AsString(), idB.AsString())
	}
}

func keys(m map[string]*dto.MetricFamily) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

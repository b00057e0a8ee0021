package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterVecRender(t *testing.T) {
	reg := NewRegistry()
	requests := reg.CounterVec("test_requests_total", "Requests.", "route", "status")

	requests.Inc("/api/v1/calendar/day", "200")
	requests.Inc("/api/v1/calendar/day", "200")
	requests.Add(3, "/login", `4"01`)
	requests.Inc("missing-label")

	if got := requests.Value("/api/v1/calendar/day", "200"); got != 2 {
		t.Fatalf("expected 2, got %v", got)
	}
	out := reg.Render()
	for _, want := range []string{
		"# TYPE test_requests_total counter",
		`test_requests_total{route="/api/v1/calendar/day",status="200"} 2`,
		`test_requests_total{route="/login",status="4\"01"} 3`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "missing-label") {
		t.Fatalf("series with the wrong label count should be dropped:\n%s", out)
	}
}

func TestRegistryHandler(t *testing.T) {
	reg := NewRegistry()
	reg.GaugeFunc("test_gauge", "Gauge.", func() float64 { return 1.5 })

	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "test_gauge 1.5") {
		t.Fatalf("unexpected response %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDuplicateFamilyPanics(t *testing.T) {
	reg := NewRegistry()
	reg.CounterVec("dup", "")
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	reg.GaugeFunc("dup", "", func() float64 { return 0 })
}

func TestDefaultCarriesProcessGauges(t *testing.T) {
	out := Default.Render()
	for _, want := range []string{"process_uptime_seconds ", "go_goroutines "} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

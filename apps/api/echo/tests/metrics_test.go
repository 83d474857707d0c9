package tests

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// requestCount reads the http_requests_total counter for a label combination.
func requestCount(t *testing.T, method, path, status string) float64 {
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() failed, %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == method && labels["path"] == path && labels["status"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func Test_metricsMiddleware_errorStatus(t *testing.T) {
	env := setup(t)

	before401 := requestCount(t, http.MethodGet, "/v1/notifications", "401")
	before200 := requestCount(t, http.MethodGet, "/v1/notifications", "200")

	req, rec := newRequest(http.MethodGet, "/v1/notifications")
	env.app.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d; want %d", rec.Code, http.StatusUnauthorized)
	}

	// the counter must carry the status the client saw, not a pre-error 200
	if got := requestCount(t, http.MethodGet, "/v1/notifications", "401"); got != before401+1 {
		t.Errorf("requests{status=401} = %v; want %v", got, before401+1)
	}
	if got := requestCount(t, http.MethodGet, "/v1/notifications", "200"); got != before200 {
		t.Errorf("requests{status=200} = %v; want %v", got, before200)
	}
}

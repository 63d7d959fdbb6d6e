package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"local path", "/srv/data/page.html", "local"},
		{"file url", "file:///srv/data/page.html", "local"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveFetchCountsBytesPerSite(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("bytes.example.com"))
	ObserveFetch("https://bytes.example.com/a", ResultSuccess, 42)
	ObserveFetch("https://bytes.example.com/b", ResultTransport, 0)
	if got := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("bytes.example.com")); got-before != 42 {
		t.Errorf("expected 42 bytes recorded, got %f", got-before)
	}
}

func TestObserveHelpersDoNotPanic(t *testing.T) {
	ObserveRetry()
	ObserveProxyRotation(RotationForced)
	ObserveProxyEviction()
	ObserveWatchdogFired()
	ObserveBatch("completed")
	IncActiveWorkers()
	DecActiveWorkers()
	ObserveRateLimitDelay("example.com", 10*time.Millisecond)
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/mw-test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	ts := httptest.NewServer(r)
	defer ts.Close()

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "202"))
	resp, err := http.Get(ts.URL + "/mw-test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if errInner := resp.Body.Close(); errInner != nil {
			t.Log(errInner)
		}
	}()

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "202")); val-before != 1 {
		t.Errorf("Expected one GET 202 request recorded, got %f", val-before)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "/tmp/x"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}

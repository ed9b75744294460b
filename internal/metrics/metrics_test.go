package metrics

import (
	"testing"
	"time"

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
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
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

func TestObserversInitializeLazily(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("metrics-test.example", "200"))
	ObservePage("https://Metrics-Test.example/car/1", 200, 512)
	if got := testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("metrics-test.example", "200")); got != before+1 {
		t.Errorf("expected pages counter to grow by 1, got %f -> %f", before, got)
	}

	ObserveCrawl("FAILURE", "BACKOFF")
	if got := testutil.ToFloat64(crawlsTotal.WithLabelValues("FAILURE", "BACKOFF")); got < 1 {
		t.Errorf("expected crawl counter, got %f", got)
	}

	ObserveProducts("built", 0)
	ObserveProducts("built", 3)
	if got := testutil.ToFloat64(productsTotal.WithLabelValues("built")); got < 3 {
		t.Errorf("expected product counter >= 3, got %f", got)
	}

	ObserveRateLimitDelay("metrics-test.example", 250*time.Millisecond)
	if n := testutil.CollectAndCount(crawlerRateLimitDelaysSeconds); n == 0 {
		t.Error("expected rate limit histogram to be observed")
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}

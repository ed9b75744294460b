package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/dealer-gatherer/internal/transport"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/car/1", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<html><head><title>2021 Toyota Camry</title></head><body><h1>Camry</h1></body></html>`)
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/car/1", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/busy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/wall", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = fmt.Fprint(w, `<html><body><div id="px-captcha"></div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadParsesPage(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{UserAgent: "dealer-gatherer-test", Timeout: 5 * time.Second}, nil)

	res, err := f.Download(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if res.Page == nil {
		t.Fatalf("expected page, got decision %+v", res.Decision)
	}
	if res.Page.FinalURL != srv.URL+"/car/1" {
		t.Fatalf("expected redirect to be followed, got %q", res.Page.FinalURL)
	}
	if got := res.Page.Doc.Find("title").Text(); got != "2021 Toyota Camry" {
		t.Fatalf("unexpected title %q", got)
	}
	if res.Decision.Action != transport.ActionProceed {
		t.Fatalf("expected proceed, got %s", res.Decision.Action)
	}
}

func TestDownloadDecisions(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{Timeout: 5 * time.Second}, nil)

	tests := []struct {
		path    string
		action  transport.Action
		status  int
		backoff bool
	}{
		{path: "/busy", action: transport.ActionProceed, status: http.StatusTooManyRequests, backoff: true},
		{path: "/missing", action: transport.ActionProceed, status: http.StatusNotFound},
		{path: "/wall", action: transport.ActionAbortCrawl, status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			res, err := f.Download(context.Background(), srv.URL+tt.path)
			if err != nil {
				t.Fatalf("Download returned error: %v", err)
			}
			if res.Page != nil {
				t.Fatalf("expected no page for %s", tt.path)
			}
			if res.Decision.Action != tt.action || res.Decision.StatusCode != tt.status || res.Decision.Backoff != tt.backoff {
				t.Fatalf("unexpected decision %+v", res.Decision)
			}
		})
	}
}

func TestDownloadNetworkFailureProceeds(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second}, nil)
	res, err := f.Download(context.Background(), addr+"/car/1")
	if err != nil {
		t.Fatalf("network failures should not be returned as errors: %v", err)
	}
	if res.Page != nil || res.Decision.Action != transport.ActionProceed || res.Decision.Message == "" {
		t.Fatalf("unexpected result %+v", res.Decision)
	}
}

func TestDownloadCanceled(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Download(ctx, srv.URL+"/car/1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

func TestResolveFollowsRedirects(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{Timeout: 5 * time.Second}, nil)

	final, err := f.Resolve(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if final != srv.URL+"/car/1" {
		t.Fatalf("unexpected final url %q", final)
	}

	if _, err := f.Resolve(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	var got capture
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &got, &fetchErr)
	if hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	if got.status != http.StatusCreated || string(got.body) != "body" || got.finalURL != "https://example.com/final" {
		t.Fatalf("unexpected capture: %+v", got)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

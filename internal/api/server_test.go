package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dealer-gatherer/internal/crawler"
	"github.com/JakeFAU/dealer-gatherer/internal/dispatcher"
	queuememory "github.com/JakeFAU/dealer-gatherer/internal/queue/memory"
	storememory "github.com/JakeFAU/dealer-gatherer/internal/storage/memory"
)

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }

type failingSources struct{}

func (failingSources) Get(context.Context, int64) (crawler.DataSource, bool, error) {
	return crawler.DataSource{}, false, errors.New("db down")
}

func newTestServer(t *testing.T, cfg Config) (*Server, *queuememory.Queue) {
	t.Helper()
	queue := queuememory.NewQueue(4)
	t.Cleanup(queue.Close)
	disp := dispatcher.New(queue, nil, fixedIDs{id: "order-1"}, nil)
	sources := storememory.NewSourceStore(crawler.DataSource{
		ID:     7,
		URL:    "https://dealer.example.com",
		Status: crawler.StatusSuccess,
	})
	return NewServer(disp, sources, cfg, nil), queue
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, Config{Ready: func(context.Context) error { return errors.New("db down") }})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), "db down")

	srv, _ = newTestServer(t, Config{Ready: func(context.Context) error { return nil }})
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestSubmitWorkOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantCode int
		queued   int
	}{
		{
			name:     "gather",
			body:     `{"type":"GATHER","data_source":{"id":7,"url":"https://dealer.example.com"}}`,
			wantCode: http.StatusAccepted,
			queued:   1,
		},
		{
			name:     "build",
			body:     `{"type":"BUILD","data_source":{"id":7,"url":"https://dealer.example.com"},"urls_to_work":["https://dealer.example.com/used/1"]}`,
			wantCode: http.StatusAccepted,
			queued:   1,
		},
		{
			name:     "build without urls",
			body:     `{"type":"BUILD","data_source":{"id":7,"url":"https://dealer.example.com"}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown type",
			body:     `{"type":"PURGE","data_source":{"id":7,"url":"https://dealer.example.com"}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing url",
			body:     `{"type":"GATHER","data_source":{"id":7}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "bad json",
			body:     `{"type":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown field",
			body:     `{"type":"GATHER","priority":1,"data_source":{"url":"https://dealer.example.com"}}`,
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, queue := newTestServer(t, Config{})

			req := httptest.NewRequest(http.MethodPost, "/v1/work-orders", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, req)

			require.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			require.Equal(t, tt.queued, queue.Len())
			if tt.wantCode != http.StatusAccepted {
				return
			}
			var resp submitResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			require.Equal(t, "order-1", resp.WorkOrderID)
			require.Equal(t, int64(7), resp.DataSource)
		})
	}
}

func TestSubmitWorkOrderQueueClosed(t *testing.T) {
	t.Parallel()
	srv, queue := newTestServer(t, Config{})
	queue.Close()

	body := `{"type":"GATHER","data_source":{"url":"https://dealer.example.com"}}`
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/work-orders", strings.NewReader(body)))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestGetDataSource(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/data-sources/7", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var ds crawler.DataSource
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ds))
	require.Equal(t, int64(7), ds.ID)
	require.Equal(t, crawler.StatusSuccess, ds.Status)

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/data-sources/8", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/data-sources/abc", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetDataSourceErrors(t *testing.T) {
	t.Parallel()

	srv := NewServer(dispatcher.New(queuememory.NewQueue(1), nil, nil, nil), failingSources{}, Config{}, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/data-sources/1", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	srv = NewServer(dispatcher.New(queuememory.NewQueue(1), nil, nil, nil), nil, Config{}, nil)
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/data-sources/1", nil))
	require.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{APIKey: "secret"})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/data-sources/7", nil))
	require.Equal(t, http.StatusForbidden, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/data-sources/7", nil)
	req.Header.Set("X-API-Key", "secret")
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/data-sources/7?api_key=secret", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t, Config{})

	h := srv.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

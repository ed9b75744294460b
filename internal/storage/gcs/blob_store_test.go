package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/dealer-gatherer/internal/storage/gcs"
)

func newTestStore(t *testing.T, cfg gcs.Config, handler http.Handler) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	store, err := gcs.Dial(context.Background(), cfg,
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObjectUploadsSnapshot(t *testing.T) {
	t.Parallel()

	var uploads int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads++
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/snapshots-bucket/o")
		assert.Equal(t, "raw/snapshots/7/run-1.html", r.URL.Query().Get("name"))
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "<html>blocked</html>")
		assert.Contains(t, string(body), "text/html")
		fmt.Fprintln(w, `{"bucket":"snapshots-bucket","name":"raw/snapshots/7/run-1.html"}`)
	})

	store := newTestStore(t, gcs.Config{Bucket: "snapshots-bucket", Prefix: "/raw/"}, handler)
	uri, err := store.PutObject(context.Background(), "snapshots/7/run-1.html", "text/html; charset=utf-8",
		strings.NewReader("<html>blocked</html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://snapshots-bucket/raw/snapshots/7/run-1.html", uri)
	require.Equal(t, 1, uploads)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	store := newTestStore(t, gcs.Config{Bucket: "snapshots-bucket"}, handler)
	_, err := store.PutObject(context.Background(), "snapshots/1/run.html", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	require.Error(t, err)

	_, err = gcs.Dial(context.Background(), gcs.Config{}, option.WithoutAuthentication())
	require.Error(t, err)

	store := newTestStore(t, gcs.Config{Bucket: "b"}, http.NotFoundHandler())
	_, err = store.PutObject(context.Background(), " ", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}

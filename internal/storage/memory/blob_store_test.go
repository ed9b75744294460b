package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("<html>blocked</html>")
	uri, err := store.PutObject(context.Background(), "snapshots/7/run-1.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/7/run-1.html", uri)

	payload[0] = 'X'
	got, contentType, ok := store.Get("snapshots/7/run-1.html")
	require.True(t, ok)
	require.Equal(t, "<html>blocked</html>", string(got))
	require.Equal(t, "text/html", contentType)

	got[0] = 'Y'
	again, _, _ := store.Get("snapshots/7/run-1.html")
	require.Equal(t, byte('<'), again[0])
	require.Equal(t, 1, store.Len())
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}

func TestBlobStoreGetMissing(t *testing.T) {
	t.Parallel()

	_, _, ok := NewBlobStore().Get("nope")
	require.False(t, ok)
}

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	body := `[
  {"make_id": 1, "make": "Toyota", "model_id": 10, "model": "Camry", "min_year": 1983, "max_year": 2026,
   "min_price": 5000, "max_price": 45000, "fuels": ["gas", "hybrid"], "bodies": ["sedan"]},
  {"make_id": 1, "make": "Toyota", "model_id": 10, "model": "Camry", "trim_id": 100, "trim": "SE"}
]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cat, err := Load(context.Background(), FileSource{Path: path})
	require.NoError(t, err)
	require.NotNil(t, cat)

	records, err := FileSource{Path: path}.CatalogRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, []string{"gas", "hybrid"}, records[0].Fuels)
	require.Equal(t, "SE", records[1].Trim)

	_, err = FileSource{Path: filepath.Join(dir, "missing.json")}.CatalogRecords(context.Background())
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err = FileSource{Path: path}.CatalogRecords(context.Background())
	require.Error(t, err)
}

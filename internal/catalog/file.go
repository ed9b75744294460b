package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileSource reads catalog records from a JSON array on disk.
type FileSource struct {
	Path string
}

type fileRecord struct {
	MakeID        int      `json:"make_id"`
	Make          string   `json:"make"`
	ModelID       int      `json:"model_id"`
	Model         string   `json:"model"`
	TrimID        int      `json:"trim_id"`
	Trim          string   `json:"trim"`
	MinYear       int      `json:"min_year"`
	MaxYear       int      `json:"max_year"`
	MinPrice      int      `json:"min_price"`
	MaxPrice      int      `json:"max_price"`
	Fuels         []string `json:"fuels"`
	Transmissions []string `json:"transmissions"`
	Drivetrains   []string `json:"drivetrains"`
	Bodies        []string `json:"bodies"`
}

// CatalogRecords decodes the file.
func (f FileSource) CatalogRecords(_ context.Context) ([]Record, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var rows []fileRecord
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode catalog file %s: %w", f.Path, err)
	}
	records := make([]Record, len(rows))
	for i, r := range rows {
		records[i] = Record(r)
	}
	return records, nil
}

package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/gamefeed/pkg/types"
)

// partitionKey identifies a partition: one doc type on one UTC date
type partitionKey struct {
	docType types.DocType
	date    string
}

func keyFor(row types.Row) partitionKey {
	return partitionKey{docType: row.DocType, date: row.Ts.UTC().Format(time.DateOnly)}
}

// dir returns the partition directory relative to the store root
func (k partitionKey) dir() string {
	return filepath.Join("doc_type="+string(k.docType), "date="+k.date)
}

type partition struct {
	key  partitionKey
	rows []types.Row
}

// groupRows splits rows into partitions, keeping first-seen partition order
// and row order within each partition.
func groupRows(rows []types.Row) []*partition {
	var parts []*partition
	index := make(map[partitionKey]*partition)
	for _, row := range rows {
		k := keyFor(row)
		p, ok := index[k]
		if !ok {
			p = &partition{key: k}
			index[k] = p
			parts = append(parts, p)
		}
		p.rows = append(p.rows, row)
	}
	return parts
}

// fileName is <session>_<first>-<last>.json
func (p *partition) fileName(sessionID string) string {
	return fmt.Sprintf("%s_%d-%d.json", sessionID, p.rows[0].Seq, p.rows[len(p.rows)-1].Seq)
}

// writePartitionFile writes rows as a JSON array through a temp file and rename
func writePartitionFile(path string, rows []types.Row) error {
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode rows: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create partition directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write rows: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}

package storage

import (
	"time"

	"github.com/cuemby/gamefeed/pkg/types"
)

// PartitionFile describes one file written by the event store
type PartitionFile struct {
	Path      string        `json:"path"`
	DocType   types.DocType `json:"doc_type"`
	Date      string        `json:"date"`
	SessionID string        `json:"session_id"`
	FirstSeq  int64         `json:"first_seq"`
	LastSeq   int64         `json:"last_seq"`
	Rows      int           `json:"rows"`
	WrittenAt time.Time     `json:"written_at"`
}

// Catalog indexes written partition files and remembers the highest
// sequence number written per session.
type Catalog interface {
	// Record stores files and raises each file's session high-water mark
	Record(files ...PartitionFile) error

	// List returns recorded files for docType, or every file when docType is empty
	List(docType types.DocType) ([]PartitionFile, error)

	// LastSeq returns the highest sequence number recorded for sessionID, or 0
	LastSeq(sessionID string) (int64, error)

	Close() error
}

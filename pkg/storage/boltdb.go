package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/gamefeed/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// CatalogFile is the bbolt database file name inside the data directory
const CatalogFile = "catalog.db"

var (
	// Bucket names
	bucketPartitions = []byte("partitions")
	bucketSequences  = []byte("sequences")
)

// BoltCatalog implements Catalog using BoltDB
type BoltCatalog struct {
	db *bolt.DB
}

// NewBoltCatalog opens (or creates) the catalog in dataDir
func NewBoltCatalog(dataDir string) (*BoltCatalog, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, CatalogFile)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPartitions, bucketSequences} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltCatalog{db: db}, nil
}

// Close closes the database
func (c *BoltCatalog) Close() error {
	return c.db.Close()
}

// Record stores files keyed by path in one transaction
func (c *BoltCatalog) Record(files ...PartitionFile) error {
	if len(files) == 0 {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		parts := tx.Bucket(bucketPartitions)
		seqs := tx.Bucket(bucketSequences)

		for _, f := range files {
			data, err := json.Marshal(f)
			if err != nil {
				return err
			}
			if err := parts.Put([]byte(f.Path), data); err != nil {
				return err
			}

			if f.SessionID == "" {
				continue
			}
			if f.LastSeq <= decodeSeq(seqs.Get([]byte(f.SessionID))) {
				continue
			}
			if err := seqs.Put([]byte(f.SessionID), encodeSeq(f.LastSeq)); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns files ordered by path
func (c *BoltCatalog) List(docType types.DocType) ([]PartitionFile, error) {
	var files []PartitionFile
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPartitions)
		return b.ForEach(func(k, v []byte) error {
			var f PartitionFile
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("corrupt catalog entry %s: %w", k, err)
			}
			if docType == "" || f.DocType == docType {
				files = append(files, f)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// LastSeq returns the session's high-water mark
func (c *BoltCatalog) LastSeq(sessionID string) (int64, error) {
	var seq int64
	err := c.db.View(func(tx *bolt.Tx) error {
		seq = decodeSeq(tx.Bucket(bucketSequences).Get([]byte(sessionID)))
		return nil
	})
	return seq, err
}

func encodeSeq(seq int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(seq))
	return buf
}

func decodeSeq(data []byte) int64 {
	if len(data) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(data))
}

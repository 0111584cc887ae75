package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.nenya/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket              = []byte("app")
	collectionFolderBucket = []byte("collection_folders")
	exportsBucket          = []byte("exports")
)

func rootFolderKey(title string) []byte {
	return []byte("root:" + title)
}

func deviceBucketKey(device string) []byte {
	return []byte("bucket:" + device)
}

// ExportSummary records the outcome of the last session export for a
// bucket.
type ExportSummary struct {
	At      time.Time `json:"at"`
	Created int       `json:"created"`
	Updated int       `json:"updated"`
	Deleted int       `json:"deleted"`
	Skipped int       `json:"skipped"`
	Failed  int       `json:"failed"`
}

// State wraps a bbolt database holding the durable side indexes: the
// collection to folder map, cached root and bucket ids, and export
// summaries. None of it is a source of truth. Every pass re-derives the
// real state from the live trees and rewrites these entries.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{appBucket, collectionFolderBucket, exportsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// RootFolderID returns the cached local id of the mirror root folder
// with the given title, or empty string.
func (s *State) RootFolderID(title string) string {
	var id string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(appBucket).Get(rootFolderKey(title)); v != nil {
			id = string(v)
		}

		return nil
	})

	return id
}

// SetRootFolderID caches the local id of the mirror root folder.
func (s *State) SetRootFolderID(title, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(rootFolderKey(title), []byte(id))
	})
}

// BucketID returns the cached remote collection id of a device's
// session bucket.
func (s *State) BucketID(device string) (int64, bool) {
	var (
		id int64
		ok bool
	)

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(deviceBucketKey(device))
		if v == nil {
			return nil
		}

		n, err := strconv.ParseInt(string(v), 10, 64)
		if err == nil {
			id, ok = n, true
		}

		return nil
	})

	return id, ok
}

// SetBucketID caches the remote collection id of a device's bucket.
func (s *State) SetBucketID(device string, id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(deviceBucketKey(device), []byte(strconv.FormatInt(id, 10)))
	})
}

// ReplaceCollectionFolders swaps the whole collection to folder map for
// the one computed by the latest pass.
func (s *State) ReplaceCollectionFolders(m map[int64]string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(collectionFolderBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}

		b, err := tx.CreateBucket(collectionFolderBucket)
		if err != nil {
			return err
		}

		for collectionID, folderID := range m {
			if err := b.Put([]byte(strconv.FormatInt(collectionID, 10)), []byte(folderID)); err != nil {
				return err
			}
		}

		return nil
	})
}

// FolderForCollection returns the local folder id mirrored from a
// remote collection.
func (s *State) FolderForCollection(collectionID int64) (string, bool) {
	var folderID string

	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(collectionFolderBucket).Get([]byte(strconv.FormatInt(collectionID, 10))); v != nil {
			folderID = string(v)
		}

		return nil
	})

	return folderID, folderID != ""
}

// CollectionFolders returns the whole collection to folder map.
func (s *State) CollectionFolders() (map[int64]string, error) {
	result := make(map[int64]string)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(collectionFolderBucket).ForEach(func(k, v []byte) error {
			id, err := strconv.ParseInt(string(k), 10, 64)
			if err != nil {
				return fmt.Errorf("decoding collection id %q: %w", k, err)
			}

			result[id] = string(v)

			return nil
		})
	})

	return result, err
}

// LastExport returns the summary of the last export into a bucket, or
// nil if none was recorded.
func (s *State) LastExport(bucketID int64) (*ExportSummary, error) {
	var sum *ExportSummary

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(exportsBucket).Get([]byte(strconv.FormatInt(bucketID, 10)))
		if v == nil {
			return nil
		}

		sum = &ExportSummary{}

		return json.Unmarshal(v, sum)
	})

	return sum, err
}

// SetLastExport records the summary of an export into a bucket.
func (s *State) SetLastExport(bucketID int64, sum ExportSummary) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(sum)
		if err != nil {
			return err
		}

		return tx.Bucket(exportsBucket).Put([]byte(strconv.FormatInt(bucketID, 10)), data)
	})
}

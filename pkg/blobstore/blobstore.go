// Package blobstore implements the coordinator's large-result side
// channel: streaming chunked upload/download for a Run's result when it
// is too large to carry inline in the relational row. It is backed by an
// embedded BoltDB file, repurposed from a bucket-per-entity JSON store
// into a bucket-per-blob chunk store.
package blobstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// ChunkSize is the maximum size of one stored chunk.
const ChunkSize = 64 * 1024

var bucketBlobs = []byte("blobs")

// ErrNotFound is returned when a blob id has no stored chunks.
var ErrNotFound = errors.New("blobstore: blob not found")

// Store is a chunked blob store over a single BoltDB file. Each blob is
// a sequence of keys "<uuid>/<chunk index, big-endian uint32>" within
// one bucket, so a blob's chunks sort and iterate in upload order.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the BoltDB file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlobs)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("blobstore: create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put streams r into the store in ChunkSize pieces and returns the new
// blob's id.
func (s *Store) Put(r io.Reader) (string, error) {
	id := uuid.NewString()
	buf := make([]byte, ChunkSize)

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		var index uint32
		for {
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				if putErr := b.Put(chunkKey(id, index), append([]byte(nil), buf[:n]...)); putErr != nil {
					return putErr
				}
				index++
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: put: %w", err)
	}
	return id, nil
}

// WriteTo streams a previously stored blob's chunks, in order, to w. It
// returns ErrNotFound if id has no stored chunks.
func (s *Store) WriteTo(id string, w io.Writer) error {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		c := b.Cursor()
		prefix := []byte(id + "/")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			found = true
			if _, err := w.Write(v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("blobstore: write %s: %w", id, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DeleteBlob removes every chunk of id, satisfying coordinator.BlobStore
// for the result data-lifecycle cleanup job.
func (s *Store) DeleteBlob(_ context.Context, id string) error {
	return s.Delete(id)
}

// Delete removes every chunk belonging to id.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		c := b.Cursor()
		prefix := []byte(id + "/")
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func chunkKey(id string, index uint32) []byte {
	key := make([]byte, 0, len(id)+1+4)
	key = append(key, id...)
	key = append(key, '/')
	key = binary.BigEndian.AppendUint32(key, index)
	return key
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Package registry is an optional, purely additive accelerator: a
// bbolt-backed cache of probe results (final URL, headers) keyed by the
// originally requested (url, destination) pair. A miss or a disabled
// registry just means the redirect resolver and HEAD probe run again —
// correctness never depends on it, only speed. The chunk plan is always
// rebuilt fresh from the caller's current chunk-size policy, never cached,
// so a changed WithChunkSize between runs can't replay a stale plan.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.etcd.io/bbolt"
)

const (
	probesBucket  = "probes"
	metadataBucket = "metadata"
	schemaVersion  = 1
)

// ErrNotFound is returned by Lookup on a cache miss.
var ErrNotFound = errors.New("registry: probe not found")

// Entry is the cached outcome of resolving and probing a (url, dest) pair.
type Entry struct {
	FinalURL string
	Headers  map[string]string
	SavedAt  time.Time
}

// Registry wraps a bbolt database used purely as a probe-result cache.
type Registry struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the registry database at path.
func Open(path string) (*Registry, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open database: %w", err)
	}

	r := &Registry{db: db}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) initialize() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(probesBucket)); err != nil {
			return fmt.Errorf("registry: failed to create probes bucket: %w", err)
		}

		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return fmt.Errorf("registry: failed to create metadata bucket: %w", err)
		}

		return meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion)))
	})
}

// Key derives the cache key for a (url, dest) pair.
func Key(url, dest string) string {
	sum := sha256.Sum256([]byte(url + "\x00" + dest))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached entry for (url, dest), or ErrNotFound.
func (r *Registry) Lookup(url, dest string) (Entry, error) {
	var data []byte

	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(probesBucket))
		data = bucket.Get([]byte(Key(url, dest)))
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if data == nil {
		return Entry{}, ErrNotFound
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("registry: failed to unmarshal entry: %w", err)
	}
	return e, nil
}

// Save stores (or overwrites) the probe result for (url, dest).
func (r *Registry) Save(url, dest string, e Entry) error {
	e.SavedAt = time.Now()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("registry: failed to marshal entry: %w", err)
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(probesBucket))
		return bucket.Put([]byte(Key(url, dest)), data)
	})
}

// Forget removes the cached probe result for (url, dest), if any.
func (r *Registry) Forget(url, dest string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(probesBucket))
		return bucket.Delete([]byte(Key(url, dest)))
	})
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// HeadersToMap converts an http.Header into the plain map[string]string
// shape stored in an Entry.
func HeadersToMap(h http.Header) map[string]string {
	m := make(map[string]string, len(h))
	for k := range h {
		m[k] = h.Get(k)
	}
	return m
}

// Package storage provides the transactional embedded KV environment each
// stateful node opens for its checkpoint state. It wraps go.etcd.io/bbolt,
// the embedded KV store used elsewhere in this codebase's lineage
// (DataDog-agent, rclone, kapacitor all vendor it), giving every node
// exactly one file, one bucket, and one writable transaction at a time -
// the same discipline the spec's lmdb-backed reference environment used,
// adapted to the options bbolt actually exposes.
package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// CheckpointBucket is the single bucket every node's env persists its
// commits and schemas into.
const CheckpointBucket = "__checkpoint__"

// Tag bytes for the TLV-prefixed records inside CheckpointBucket.
const (
	TagSourceID      byte = 0x01
	TagOutputSchema  byte = 0x02
	TagInputSchema   byte = 0x03
)

// Env is one node's checkpoint environment: a single bbolt file holding one
// bucket, opened with options that favor throughput over fsync-per-commit
// durability, matching the spec's no_sync/writable_memmap intent.
type Env struct {
	db   *bolt.DB
	path string
}

// Open creates (or reuses) the bbolt file at basePath/<name>.db and ensures
// CheckpointBucket exists.
func Open(basePath, name string) (*Env, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create base path: %w", err)
	}
	path := filepath.Join(basePath, name+".db")

	db, err := bolt.Open(path, 0o644, &bolt.Options{
		NoSync:         true,
		NoGrowSync:     true,
		NoFreelistSync: true,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(CheckpointBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init bucket: %w", err)
	}

	return &Env{db: db, path: path}, nil
}

// Exists reports whether basePath/<name>.db is present on disk.
func Exists(basePath, name string) bool {
	_, err := os.Stat(filepath.Join(basePath, name+".db"))
	return err == nil
}

// Remove deletes a node's stale env file so it re-initializes from scratch
// on the next run.
func Remove(basePath, name string) error {
	return os.Remove(filepath.Join(basePath, name+".db"))
}

// Close releases the underlying bbolt file handle.
func (e *Env) Close() error {
	return e.db.Close()
}

// Txn is a single read-write transaction against Env's checkpoint bucket.
type Txn struct {
	tx     *bolt.Tx
	bucket *bolt.Bucket
}

// Begin starts a new writable transaction. Only one may be open per Env at
// a time; bbolt itself enforces that with its writer lock.
func (e *Env) Begin() (*Txn, error) {
	tx, err := e.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("storage: begin txn: %w", err)
	}
	bucket := tx.Bucket([]byte(CheckpointBucket))
	return &Txn{tx: tx, bucket: bucket}, nil
}

// Commit durably applies the transaction's writes (subject to NoSync).
func (t *Txn) Commit() error {
	return t.tx.Commit()
}

// Rollback discards the transaction's writes.
func (t *Txn) Rollback() error {
	return t.tx.Rollback()
}

// PutCommit persists the highest sequence number durably committed for
// source, keyed as SOURCE_ID | source-name -> big-endian u64 seq.
func (t *Txn) PutCommit(source string, seq uint64) error {
	key := append([]byte{TagSourceID}, []byte(source)...)
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, seq)
	return t.bucket.Put(key, val)
}

// PutOutputSchema persists port's output schema, keyed as
// OUTPUT_SCHEMA | big-endian u16 port -> value.
func (t *Txn) PutOutputSchema(port uint16, value []byte) error {
	key := portKey(TagOutputSchema, port)
	return t.bucket.Put(key, value)
}

// PutInputSchema persists port's input schema, keyed as
// INPUT_SCHEMA | big-endian u16 port -> value.
func (t *Txn) PutInputSchema(port uint16, value []byte) error {
	key := portKey(TagInputSchema, port)
	return t.bucket.Put(key, value)
}

func portKey(tag byte, port uint16) []byte {
	key := make([]byte, 3)
	key[0] = tag
	binary.BigEndian.PutUint16(key[1:], port)
	return key
}

// Record is one decoded TLV entry read back from a checkpoint bucket.
type Record struct {
	Tag   byte
	Key   []byte
	Value []byte
}

// Walk opens a read-only cursor over Env's checkpoint bucket and invokes fn
// for every key/value pair in key order, mirroring the spec's
// "ordered cursor over a single checkpoint database" requirement.
func (e *Env) Walk(fn func(Record) error) error {
	return e.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(CheckpointBucket))
		if bucket == nil {
			return fmt.Errorf("storage: missing bucket %s", CheckpointBucket)
		}
		cur := bucket.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			if len(k) == 0 {
				return fmt.Errorf("storage: empty key")
			}
			rec := Record{Tag: k[0], Key: k[1:], Value: append([]byte(nil), v...)}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

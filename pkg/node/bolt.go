package node

import (
    "encoding/json"
    "fmt"
    "time"

    "github.com/boltdb/bolt"
)

// BoltStore persists objects in a bolt file, one bolt bucket per KV bucket.
type BoltStore struct {
    db *bolt.DB
}

// OpenBolt opens (or creates) the database at path.
func OpenBolt(path string) (*BoltStore, error) {
    db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
    if err != nil { return nil, fmt.Errorf("node: open bolt %s: %w", path, err) }
    return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(bucket, key string) (Object, bool, error) {
    var obj Object
    var found bool
    err := s.db.View(func(tx *bolt.Tx) error {
        b := tx.Bucket([]byte(bucket))
        if b == nil { return nil }
        raw := b.Get([]byte(key))
        if raw == nil { return nil }
        found = true
        // raw is only valid inside the transaction; Unmarshal copies
        return json.Unmarshal(raw, &obj)
    })
    return obj, found, err
}

func (s *BoltStore) Put(bucket, key string, obj Object) error {
    raw, err := json.Marshal(obj)
    if err != nil { return err }
    return s.db.Update(func(tx *bolt.Tx) error {
        b, err := tx.CreateBucketIfNotExists([]byte(bucket))
        if err != nil { return err }
        return b.Put([]byte(key), raw)
    })
}

func (s *BoltStore) Delete(bucket, key string) error {
    return s.db.Update(func(tx *bolt.Tx) error {
        b := tx.Bucket([]byte(bucket))
        if b == nil { return nil }
        if err := b.Delete([]byte(key)); err != nil { return err }
        if k, _ := b.Cursor().First(); k == nil {
            return tx.DeleteBucket([]byte(bucket))
        }
        return nil
    })
}

func (s *BoltStore) Keys(bucket string) ([]string, error) {
    out := []string{}
    err := s.db.View(func(tx *bolt.Tx) error {
        b := tx.Bucket([]byte(bucket))
        if b == nil { return nil }
        return b.ForEach(func(k, _ []byte) error {
            out = append(out, string(k))
            return nil
        })
    })
    return out, err
}

func (s *BoltStore) Buckets() ([]string, error) {
    out := []string{}
    err := s.db.View(func(tx *bolt.Tx) error {
        return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
            out = append(out, string(name))
            return nil
        })
    })
    return out, err
}

func (s *BoltStore) Close() error { return s.db.Close() }

var _ Store = (*BoltStore)(nil)

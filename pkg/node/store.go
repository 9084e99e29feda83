package node

import (
    "errors"
    "sort"
    "sync"
)

// ErrStoreClosed is returned by stores after Close.
var ErrStoreClosed = errors.New("node: store closed")

// Object is a stored value with its metadata.
type Object struct {
    Value       []byte `json:"value"`
    ContentType string `json:"content_type,omitempty"`
    VClock      string `json:"vclock"`
}

// Store is the node's local persistence. A bucket exists while it holds at
// least one key.
type Store interface {
    Get(bucket, key string) (Object, bool, error)
    Put(bucket, key string, obj Object) error
    Delete(bucket, key string) error
    Keys(bucket string) ([]string, error)
    Buckets() ([]string, error)
    Close() error
}

// MemoryStore keeps everything in maps. The zero value is not usable; use
// NewMemoryStore.
type MemoryStore struct {
    mu     sync.RWMutex
    data   map[string]map[string]Object
    closed bool
}

func NewMemoryStore() *MemoryStore {
    return &MemoryStore{data: make(map[string]map[string]Object)}
}

func (m *MemoryStore) Get(bucket, key string) (Object, bool, error) {
    m.mu.RLock(); defer m.mu.RUnlock()
    if m.closed { return Object{}, false, ErrStoreClosed }
    obj, ok := m.data[bucket][key]
    if !ok { return Object{}, false, nil }
    obj.Value = append([]byte(nil), obj.Value...)
    return obj, true, nil
}

func (m *MemoryStore) Put(bucket, key string, obj Object) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.closed { return ErrStoreClosed }
    b := m.data[bucket]
    if b == nil {
        b = make(map[string]Object)
        m.data[bucket] = b
    }
    obj.Value = append([]byte(nil), obj.Value...)
    b[key] = obj
    return nil
}

func (m *MemoryStore) Delete(bucket, key string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.closed { return ErrStoreClosed }
    b := m.data[bucket]
    delete(b, key)
    if len(b) == 0 { delete(m.data, bucket) }
    return nil
}

func (m *MemoryStore) Keys(bucket string) ([]string, error) {
    m.mu.RLock(); defer m.mu.RUnlock()
    if m.closed { return nil, ErrStoreClosed }
    out := make([]string, 0, len(m.data[bucket]))
    for k := range m.data[bucket] { out = append(out, k) }
    sort.Strings(out)
    return out, nil
}

func (m *MemoryStore) Buckets() ([]string, error) {
    m.mu.RLock(); defer m.mu.RUnlock()
    if m.closed { return nil, ErrStoreClosed }
    out := make([]string, 0, len(m.data))
    for b := range m.data { out = append(out, b) }
    sort.Strings(out)
    return out, nil
}

func (m *MemoryStore) Close() error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.closed = true
    return nil
}

var _ Store = (*MemoryStore)(nil)

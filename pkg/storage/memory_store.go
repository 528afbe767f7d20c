package storage

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// MemoryStore is an in-process ObjectStore. Presigned URLs point at a fake
// host; tests simulate client uploads with PutObject.
type MemoryStore struct {
	mu        sync.Mutex
	objects   map[string]ObjectInfo
	deleteErr error
	deletes   []string
}

// NewMemoryStore creates an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]ObjectInfo)}
}

// PutObject records an object as if a client had uploaded it.
func (m *MemoryStore) PutObject(key string, size int64, contentType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = ObjectInfo{Key: key, Size: size, ContentType: contentType}
}

// RemoveObject drops an object behind the service's back.
func (m *MemoryStore) RemoveObject(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}

// FailDeletes makes every subsequent Delete return err.
func (m *MemoryStore) FailDeletes(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// Has reports whether key is stored.
func (m *MemoryStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Deletes returns the keys passed to Delete, in call order.
func (m *MemoryStore) Deletes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deletes...)
}

func (m *MemoryStore) PresignPut(_ context.Context, key string, expiry time.Duration) (string, error) {
	return memoryURL("PUT", key, expiry), nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	return memoryURL("GET", key, expiry), nil
}

func (m *MemoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return info, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, key)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) EnsureBucket(context.Context) error { return nil }

func (m *MemoryStore) BucketExists(context.Context) (bool, error) { return true, nil }

func memoryURL(method, key string, expiry time.Duration) string {
	q := url.Values{}
	q.Set("method", method)
	q.Set("expires", fmt.Sprintf("%d", int(expiry.Seconds())))
	return "https://objects.invalid/" + url.PathEscape(key) + "?" + q.Encode()
}

var _ ObjectStore = (*MemoryStore)(nil)
var _ ObjectStore = (*MinioStore)(nil)
var _ ObjectStore = (*S3Store)(nil)

package gs

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStorage is an in-process Storage used by tests and dry runs.
type MemoryStorage struct {
	mu      sync.Mutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data    []byte
	acl     string
	updated time.Time
}

// NewMemoryStorage returns an empty store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: map[string]memoryObject{}}
}

func memoryKey(bucket, object string) string {
	return bucket + "/" + object
}

func (m *MemoryStorage) Upload(_ context.Context, bucket, object string, r io.Reader, opts UploadOptions) error {
	if _, err := PredefinedACL(opts.ACL); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[memoryKey(bucket, object)] = memoryObject{data: data, acl: opts.ACL, updated: time.Now()}
	return nil
}

func (m *MemoryStorage) Download(_ context.Context, bucket, object string, w io.Writer) error {
	m.mu.Lock()
	obj, ok := m.objects[memoryKey(bucket, object)]
	m.mu.Unlock()
	if !ok {
		return classify("download", bucket, object, ErrObjectNotExist)
	}
	_, err := io.Copy(w, bytes.NewReader(obj.data))
	return err
}

func (m *MemoryStorage) Exists(_ context.Context, bucket, object string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[memoryKey(bucket, object)]
	return ok, nil
}

func (m *MemoryStorage) List(_ context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for key, obj := range m.objects {
		b, name, _ := strings.Cut(key, "/")
		if b != bucket || !strings.HasPrefix(name, prefix) {
			continue
		}
		out = append(out, ObjectInfo{Bucket: b, Name: name, Size: int64(len(obj.data)), Updated: obj.updated})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStorage) Delete(_ context.Context, bucket, object string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, memoryKey(bucket, object))
	return nil
}

func (m *MemoryStorage) Close() error { return nil }

// ACL returns the canned ACL an object was uploaded with.
func (m *MemoryStorage) ACL(url string) string {
	bucket, object, err := ParseURL(url)
	if err != nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[memoryKey(bucket, object)].acl
}

// Objects returns the gs:// URLs of everything stored, sorted.
func (m *MemoryStorage) Objects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for key := range m.objects {
		out = append(out, BaseGSURL+key)
	}
	sort.Strings(out)
	return out
}

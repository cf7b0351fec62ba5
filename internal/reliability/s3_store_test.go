package reliability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listResponse = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>backups</Name>
  <Prefix>minvar/</Prefix>
  <KeyCount>2</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>minvar/minvar-backup-2026-01-01-000000.tar.gz</Key><Size>42</Size></Contents>
  <Contents><Key>minvar/minvar-backup-2026-01-02-000000.tar.gz</Key><Size>7</Size></Contents>
</ListBucketResult>`

type fakeBucket struct {
	mu       sync.Mutex
	requests []string
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	switch {
	case r.Method == http.MethodPut:
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, listResponse)
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeBucket) seen(req string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r == req {
			return true
		}
	}
	return false
}

func newTestS3Store(t *testing.T) (*S3Store, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	store, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "backups",
		Region:          "auto",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	return store, bucket
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{Region: "auto"})
	assert.Error(t, err)
}

func TestS3Store_Upload(t *testing.T) {
	store, bucket := newTestS3Store(t)

	body := "archive-bytes"
	err := store.Upload(context.Background(), "minvar/a.tar.gz", strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	assert.True(t, bucket.seen("PUT /backups/minvar/a.tar.gz"))
}

func TestS3Store_List(t *testing.T) {
	store, _ := newTestS3Store(t)

	objects, err := store.List(context.Background(), "minvar/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "minvar/minvar-backup-2026-01-01-000000.tar.gz", objects[0].Key)
	assert.Equal(t, int64(42), objects[0].SizeBytes)
}

func TestS3Store_Delete(t *testing.T) {
	store, bucket := newTestS3Store(t)

	require.NoError(t, store.Delete(context.Background(), "minvar/old.tar.gz"))
	assert.True(t, bucket.seen("DELETE /backups/minvar/old.tar.gz"))
}

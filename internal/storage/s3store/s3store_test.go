package s3store

import (
	"context"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = data
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestStore(t *testing.T, cfg Config) (*Store, *fakeS3) {
	backend := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	cfg.Bucket = "smm-media"
	cfg.Endpoint = srv.URL
	cfg.UsePathStyle = true
	cfg.AccessKeyID = "AKIDTEST"
	cfg.SecretAccessKey = "secret"
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return s, backend
}

func TestTempKeyFormat(t *testing.T) {
	s := &Store{prefix: "stories", now: func() time.Time { return time.UnixMilli(1700000000123) }}

	key := s.TempKey("mp4")
	assert.Regexp(t, regexp.MustCompile(`^stories/1700000000123-[0-9a-f-]{36}\.mp4$`), key)
	assert.NotEqual(t, key, s.TempKey(".mp4"))
}

func TestPutAndDeleteWithPublicURL(t *testing.T) {
	s, backend := newTestStore(t, Config{PublicBaseURL: "https://media.example.com/"})
	key := "tmp/stories/story 1.jpg"

	got, err := s.Put(context.Background(), key, media.NewBuffer("", "image/jpeg", []byte("jpeg")))
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/tmp/stories/story%201.jpg", got)

	backend.mu.Lock()
	assert.Equal(t, []byte("jpeg"), backend.objects["/smm-media/"+key])
	assert.Equal(t, "image/jpeg", backend.types["/smm-media/"+key])
	backend.mu.Unlock()

	require.NoError(t, s.Delete(context.Background(), key))
	backend.mu.Lock()
	assert.Empty(t, backend.objects)
	backend.mu.Unlock()
}

func TestPutReturnsPresignedURL(t *testing.T) {
	s, _ := newTestStore(t, Config{PresignTTL: 10 * time.Minute})

	got, err := s.Put(context.Background(), "tmp/stories/a.mp4", media.NewBuffer("", "video/mp4", []byte("mp4")))
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/smm-media/tmp/stories/a.mp4", u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestPutConsumesBuffer(t *testing.T) {
	s, _ := newTestStore(t, Config{PublicBaseURL: "https://media.example.com"})
	buf := media.NewBuffer("", "image/png", []byte("png"))

	_, err := s.Put(context.Background(), "k.png", buf)
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "k.png", buf)
	assert.ErrorIs(t, err, media.ErrBufferConsumed)
}

func TestCustomCABundle(t *testing.T) {
	backend := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewTLSServer(backend)
	t.Cleanup(srv.Close)

	bundle := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}
	require.NoError(t, os.WriteFile(bundle, pem.EncodeToMemory(block), 0o600))
	t.Setenv("AWS_CA_BUNDLE", bundle)

	s, err := New(context.Background(), Config{
		Bucket:          "smm-media",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
		PublicBaseURL:   "https://media.example.com",
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "tmp/stories/a.jpg", media.NewBuffer("", "image/jpeg", []byte("jpeg")))
	require.NoError(t, err)
	backend.mu.Lock()
	assert.Equal(t, []byte("jpeg"), backend.objects["/smm-media/tmp/stories/a.jpg"])
	backend.mu.Unlock()
}

func TestPutTimesOutOnUnresponsiveEndpoint(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	s, err := New(context.Background(), Config{
		Bucket:          "smm-media",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
		Timeout:         200 * time.Millisecond,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Put(context.Background(), "k.jpg", media.NewBuffer("", "image/jpeg", []byte("jpeg")))
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Put did not return against an unresponsive endpoint")
	}
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

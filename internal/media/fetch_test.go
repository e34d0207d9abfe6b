package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReturnsBuffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("movie-bytes"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{Timeout: 5 * time.Second})
	buf, err := f.Fetch(context.Background(), srv.URL+"/media/clip.mp4")
	require.NoError(t, err)
	defer buf.Release()

	assert.True(t, buf.IsVideo)
	assert.Equal(t, "clip.mp4", buf.Name)
	data, err := buf.Take()
	require.NoError(t, err)
	assert.Equal(t, "movie-bytes", string(data))
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{Retries: 3})
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.jpg")

	var fe FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{Retries: 2})
	buf, err := f.Fetch(context.Background(), srv.URL+"/a.jpg")
	require.NoError(t, err)
	defer buf.Release()

	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, 4, buf.Len())
}

func TestFetchEnforcesMaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetcherConfig{MaxBytes: 16})
	_, err := f.Fetch(context.Background(), srv.URL+"/big.bin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

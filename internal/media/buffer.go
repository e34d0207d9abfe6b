// Package media moves raw media bytes between the download, render and upload
// stages of a publish.
package media

import (
	"errors"
	"net/http"
	"path"
	"strings"
	"sync"
)

// ErrBufferConsumed is returned when a buffer's bytes were already handed off.
var ErrBufferConsumed = errors.New("media buffer already consumed")

// Buffer is an owned, single-consumer byte buffer. Exactly one stage takes the
// bytes; afterwards the buffer only reports metadata.
type Buffer struct {
	ContentType string
	IsVideo     bool
	Name        string

	mu       sync.Mutex
	data     []byte
	size     int
	consumed bool
}

// NewBuffer wraps data. When contentType is empty it is sniffed from the bytes.
func NewBuffer(name, contentType string, data []byte) *Buffer {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &Buffer{
		ContentType: contentType,
		IsVideo:     isVideo(contentType, name),
		Name:        name,
		data:        data,
		size:        len(data),
	}
}

// Len returns the size of the original payload, even after it was taken.
func (b *Buffer) Len() int {
	return b.size
}

// Take hands the bytes to the caller. It succeeds once.
func (b *Buffer) Take() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return nil, ErrBufferConsumed
	}
	b.consumed = true
	data := b.data
	b.data = nil
	return data, nil
}

// Peek returns the bytes without consuming them. Renderers use it to read an
// input they do not own.
func (b *Buffer) Peek() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return nil, ErrBufferConsumed
	}
	return b.data, nil
}

// Release drops the bytes. Safe to call more than once and after Take.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.data = nil
	b.consumed = true
	b.mu.Unlock()
}

// Extension returns a file extension matching the buffer's content type.
func (b *Buffer) Extension() string {
	if ext := strings.ToLower(path.Ext(b.Name)); ext != "" && len(ext) <= 5 {
		return ext
	}
	switch mediaType(b.ContentType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "audio/mpeg":
		return ".mp3"
	}
	if b.IsVideo {
		return ".mp4"
	}
	return ".bin"
}

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".m4v": {}, ".webm": {},
}

func isVideo(contentType, name string) bool {
	if strings.HasPrefix(mediaType(contentType), "video/") {
		return true
	}
	_, ok := videoExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsVideoURL guesses from the path extension whether rawURL points at a video.
func IsVideoURL(rawURL string) bool {
	return isVideo("", fileName(rawURL))
}

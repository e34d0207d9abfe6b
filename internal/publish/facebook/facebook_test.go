package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/media"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageID = "1029384756"

var creds = publish.Credentials{AccessToken: "page-token", PageOrAccountID: pageID}

type call struct {
	path   string
	fields map[string]string
	file   string
}

type fakeGraph struct {
	mu    sync.Mutex
	calls []call
	photo int
	// finishErr, when set, is returned by the video_stories finish phase.
	finishErr string
	uploaded  []byte
	uploadURL string
}

func (g *fakeGraph) record(t *testing.T, r *http.Request) call {
	c := call{path: strings.TrimPrefix(r.URL.Path, "/v21.0/"), fields: map[string]string{}}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		require.NoError(t, r.ParseMultipartForm(10<<20))
		for k, v := range r.MultipartForm.Value {
			c.fields[k] = v[0]
		}
		if fh := r.MultipartForm.File["source"]; len(fh) > 0 {
			f, err := fh[0].Open()
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			f.Close()
			c.file = string(data)
		}
	} else {
		require.NoError(t, r.ParseForm())
		for k := range r.PostForm {
			c.fields[k] = r.PostForm.Get(k)
		}
	}
	g.calls = append(g.calls, c)
	return c
}

func (g *fakeGraph) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v21.0/"+pageID+"/photos", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		c := g.record(t, r)
		g.photo++
		if c.fields["published"] == "true" {
			fmt.Fprintf(w, `{"id":"photo-%d","post_id":"%s_post-%d"}`, g.photo, pageID, g.photo)
			return
		}
		fmt.Fprintf(w, `{"id":"photo-%d"}`, g.photo)
	})
	mux.HandleFunc("/v21.0/"+pageID+"/videos", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.record(t, r)
		_, _ = io.WriteString(w, `{"id":"video-1"}`)
	})
	mux.HandleFunc("/v21.0/"+pageID+"/feed", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.record(t, r)
		fmt.Fprintf(w, `{"id":"%s_feed-1"}`, pageID)
	})
	mux.HandleFunc("/v21.0/"+pageID+"/photo_stories", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.record(t, r)
		_, _ = io.WriteString(w, `{"success":true,"post_id":"story-post-1"}`)
	})
	mux.HandleFunc("/v21.0/"+pageID+"/video_stories", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		c := g.record(t, r)
		switch c.fields["upload_phase"] {
		case "start":
			fmt.Fprintf(w, `{"video_id":"vid-9","upload_url":%q}`, g.uploadURL)
		case "finish":
			if g.finishErr != "" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, g.finishErr)
				return
			}
			_, _ = io.WriteString(w, `{"success":true,"post_id":"video-story-1"}`)
		}
	})
	mux.HandleFunc("/upload/vid-9", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "OAuth page-token", r.Header.Get("Authorization"))
		g.uploaded, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"success":true}`)
	})
	return mux
}

func (g *fakeGraph) find(path string) []call {
	var out []call
	for _, c := range g.calls {
		if c.path == path {
			out = append(out, c)
		}
	}
	return out
}

type fakeFetcher struct {
	missing     map[string]bool
	contentType string
}

func (f fakeFetcher) Fetch(_ context.Context, rawURL string) (*media.Buffer, error) {
	if f.missing[rawURL] {
		return nil, media.FetchError{URL: rawURL, StatusCode: http.StatusNotFound}
	}
	ct := f.contentType
	if ct == "" {
		ct = "image/jpeg"
	}
	return media.NewBuffer("", ct, []byte("data:"+rawURL)), nil
}

func newTestClient(t *testing.T, g *fakeGraph, fetcher media.Fetcher) *Client {
	srv := httptest.NewServer(g.handler(t))
	t.Cleanup(srv.Close)
	g.uploadURL = srv.URL + "/upload/vid-9"
	return New(Config{Graph: graph.Config{BaseURL: srv.URL}}, fetcher, nil)
}

func TestPostUploadsPhotoBytes(t *testing.T) {
	g := &fakeGraph{}
	c := newTestClient(t, g, fakeFetcher{})

	receipt, err := c.Execute(context.Background(), publish.Payload{
		ContentType:  publish.Post,
		MediaURLs:    []string{"https://x/a.jpg"},
		CaptionFinal: "Hello",
	}, creds)

	require.NoError(t, err)
	assert.Equal(t, pageID+"_post-1", receipt.RemoteID)
	photos := g.find(pageID + "/photos")
	require.Len(t, photos, 1)
	assert.Equal(t, "Hello", photos[0].fields["message"])
	assert.Equal(t, "true", photos[0].fields["published"])
	assert.Equal(t, "data:https://x/a.jpg", photos[0].file)
}

func TestPostFallsBackToURLWhenDownloadFails(t *testing.T) {
	g := &fakeGraph{}
	c := newTestClient(t, g, fakeFetcher{missing: map[string]bool{"https://x/a.jpg": true}})

	receipt, err := c.Execute(context.Background(), publish.Payload{
		ContentType:  publish.Post,
		MediaURLs:    []string{"https://x/a.jpg"},
		CaptionFinal: "Hello",
	}, creds)

	require.NoError(t, err)
	assert.NotEmpty(t, receipt.RemoteID)
	photos := g.find(pageID + "/photos")
	require.Len(t, photos, 1)
	assert.Equal(t, "https://x/a.jpg", photos[0].fields["url"])
	assert.Empty(t, photos[0].file)
}

func TestPostVideoGoesToVideosEdge(t *testing.T) {
	g := &fakeGraph{}
	c := newTestClient(t, g, fakeFetcher{contentType: "video/mp4"})

	receipt, err := c.Execute(context.Background(), publish.Payload{
		ContentType:  publish.Post,
		MediaURLs:    []string{"https://x/clip.mp4"},
		CaptionFinal: "Watch",
	}, creds)

	require.NoError(t, err)
	assert.Equal(t, "video-1", receipt.RemoteID)
	videos := g.find(pageID + "/videos")
	require.Len(t, videos, 1)
	assert.Equal(t, "Watch", videos[0].fields["description"])
}

func TestCarouselSkipsUnreachableItem(t *testing.T) {
	g := &fakeGraph{}
	c := newTestClient(t, g, fakeFetcher{missing: map[string]bool{"https://x/1.jpg": true}})

	receipt, err := c.Execute(context.Background(), publish.Payload{
		ContentType:  publish.Carousel,
		MediaURLs:    []string{"https://x/1.jpg", "https://x/2.jpg"},
		CaptionFinal: "Album",
	}, creds)

	require.NoError(t, err)
	assert.Equal(t, pageID+"_feed-1", receipt.RemoteID)
	require.Len(t, receipt.Warnings, 1)

	photos := g.find(pageID + "/photos")
	require.Len(t, photos, 1)
	assert.Equal(t, "false", photos[0].fields["published"])

	feed := g.find(pageID + "/feed")
	require.Len(t, feed, 1)
	assert.Equal(t, "Album", feed[0].fields["message"])
	var ref map[string]string
	require.NoError(t, json.Unmarshal([]byte(feed[0].fields["attached_media[0]"]), &ref))
	assert.Equal(t, "photo-1", ref["media_fbid"])
	_, extra := feed[0].fields["attached_media[1]"]
	assert.False(t, extra)
}

func TestCarouselNothingUploaded(t *testing.T) {
	g := &fakeGraph{}
	c := newTestClient(t, g, fakeFetcher{missing: map[string]bool{"https://x/1.jpg": true, "https://x/2.jpg": true}})

	_, err := c.Execute(context.Background(), publish.Payload{
		ContentType: publish.Carousel,
		MediaURLs:   []string{"https://x/1.jpg", "https://x/2.jpg"},
	}, creds)

	var nm publish.NoMediaUploadedError
	require.ErrorAs(t, err, &nm)
	for _, f := range nm.Failures {
		assert.True(t, f.Unreachable)
	}
	assert.Empty(t, g.find(pageID+"/feed"))
}

func TestPhotoStory(t *testing.T) {
	g := &fakeGraph{}
	c := newTestClient(t, g, fakeFetcher{})

	receipt, err := c.Execute(context.Background(), publish.Payload{
		ContentType: publish.Story,
		MediaURLs:   []string{"https://x/a.jpg"},
	}, creds)

	require.NoError(t, err)
	assert.Equal(t, "story-post-1", receipt.RemoteID)
	stories := g.find(pageID + "/photo_stories")
	require.Len(t, stories, 1)
	assert.Equal(t, "photo-1", stories[0].fields["photo_id"])
}

func TestVideoStory(t *testing.T) {
	g := &fakeGraph{}
	c := newTestClient(t, g, fakeFetcher{contentType: "video/mp4"})

	receipt, err := c.Execute(context.Background(), publish.Payload{
		ContentType: publish.Story,
		MediaURLs:   []string{"https://x/v.mp4"},
	}, creds)

	require.NoError(t, err)
	assert.Equal(t, "video-story-1", receipt.RemoteID)
	assert.Equal(t, "data:https://x/v.mp4", string(g.uploaded))

	phases := g.find(pageID + "/video_stories")
	require.Len(t, phases, 2)
	assert.Equal(t, "start", phases[0].fields["upload_phase"])
	assert.Equal(t, fmt.Sprint(len("data:https://x/v.mp4")), phases[0].fields["file_size"])
	assert.Equal(t, "finish", phases[1].fields["upload_phase"])
	assert.Equal(t, "vid-9", phases[1].fields["video_id"])
}

func TestVideoStoryAlreadyFinishedIsSuccess(t *testing.T) {
	g := &fakeGraph{finishErr: `{"error":{"message":"The video has already been finished processing.","code":6000,"error_subcode":1363040}}`}
	c := newTestClient(t, g, fakeFetcher{contentType: "video/mp4"})

	receipt, err := c.Execute(context.Background(), publish.Payload{
		ContentType: publish.Story,
		MediaURLs:   []string{"https://x/v.mp4"},
	}, creds)

	require.NoError(t, err)
	assert.Equal(t, "vid-9", receipt.RemoteID)
}

func TestVideoStoryFinishFailure(t *testing.T) {
	g := &fakeGraph{finishErr: `{"error":{"message":"Invalid parameter","code":100}}`}
	c := newTestClient(t, g, fakeFetcher{contentType: "video/mp4"})

	_, err := c.Execute(context.Background(), publish.Payload{
		ContentType: publish.Story,
		MediaURLs:   []string{"https://x/v.mp4"},
	}, creds)

	require.Error(t, err)
	assert.Equal(t, publish.StageVideoFinish, publish.StageOf(err))
}

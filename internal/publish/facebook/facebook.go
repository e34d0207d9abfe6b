package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/logutil"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/media"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish/graph"
)

const (
	providerName = "facebook"

	// Returned by the video_stories finish phase when the session was already finalized.
	subcodeAlreadyFinished = 1363040
)

// Config tunes the adapter.
type Config struct {
	Graph               graph.Config
	CarouselConcurrency int
}

// Client implements publish.Adapter for Facebook pages.
type Client struct {
	api         *graph.Client
	fetcher     media.Fetcher
	renderer    media.Renderer
	concurrency int
}

// New constructs the Facebook adapter. renderer is only needed for stories.
func New(cfg Config, fetcher media.Fetcher, renderer media.Renderer) *Client {
	return &Client{
		api:         graph.New(providerName, cfg.Graph),
		fetcher:     fetcher,
		renderer:    renderer,
		concurrency: cfg.CarouselConcurrency,
	}
}

// Platform identifies the adapter.
func (c *Client) Platform() publish.Platform { return publish.Facebook }

// Supports reports the content types a page can publish.
func (c *Client) Supports(ct publish.ContentType) bool {
	switch ct {
	case publish.Post, publish.Carousel, publish.Story:
		return true
	}
	return false
}

// Execute runs the state machine for the payload's content type.
func (c *Client) Execute(ctx context.Context, p publish.Payload, creds publish.Credentials) (publish.Receipt, error) {
	switch p.ContentType {
	case publish.Post:
		id, err := c.post(ctx, p, creds)
		return publish.Receipt{RemoteID: id}, err
	case publish.Carousel:
		return c.carousel(ctx, p, creds)
	case publish.Story:
		id, err := c.story(ctx, p, creds)
		return publish.Receipt{RemoteID: id}, err
	}
	return publish.Receipt{}, publish.ValidationError{Provider: providerName, Reason: fmt.Sprintf("unsupported content type %q", p.ContentType)}
}

// post sends the media bytes with the caption in one call. When the download
// fails the URL is handed to Facebook instead.
func (c *Client) post(ctx context.Context, p publish.Payload, creds publish.Credentials) (string, error) {
	mediaURL := p.MediaURLs[0]
	if err := publish.Checkpoint(ctx, providerName, publish.StageFetch); err != nil {
		return "", err
	}

	buf, err := c.fetcher.Fetch(ctx, mediaURL)
	if err != nil {
		logutil.Warnf("media download failed, posting by url: url=%s err=%v", mediaURL, err)
		return c.postByURL(ctx, p, creds)
	}
	defer buf.Release()

	if err := publish.Checkpoint(ctx, providerName, publish.StageUploadPhoto); err != nil {
		return "", err
	}
	if buf.IsVideo {
		resp, err := c.uploadVideo(ctx, creds, buf, p.CaptionFinal)
		if err != nil {
			return "", err
		}
		return c.postOrID(publish.StageUploadVideo, resp)
	}
	resp, err := c.uploadPhoto(ctx, creds, buf, p.CaptionFinal, true)
	if err != nil {
		return "", err
	}
	return c.postOrID(publish.StageUploadPhoto, resp)
}

func (c *Client) postByURL(ctx context.Context, p publish.Payload, creds publish.Credentials) (string, error) {
	mediaURL := p.MediaURLs[0]
	form := url.Values{}
	if media.IsVideoURL(mediaURL) {
		form.Set("file_url", mediaURL)
		if p.CaptionFinal != "" {
			form.Set("description", p.CaptionFinal)
		}
		resp, err := c.api.PostForm(ctx, publish.StageUploadVideo, creds.PageOrAccountID+"/videos", creds.AccessToken, form)
		if err != nil {
			return "", err
		}
		return c.postOrID(publish.StageUploadVideo, resp)
	}

	form.Set("url", mediaURL)
	form.Set("published", "true")
	if p.CaptionFinal != "" {
		form.Set("message", p.CaptionFinal)
	}
	resp, err := c.api.PostForm(ctx, publish.StageUploadPhoto, creds.PageOrAccountID+"/photos", creds.AccessToken, form)
	if err != nil {
		return "", err
	}
	return c.postOrID(publish.StageUploadPhoto, resp)
}

func (c *Client) carousel(ctx context.Context, p publish.Payload, creds publish.Credentials) (publish.Receipt, error) {
	photoIDs, warnings, err := publish.UploadItems(ctx, providerName, publish.StageUploadPhoto, p.MediaURLs, c.concurrency,
		func(ctx context.Context, index int, mediaURL string) (string, error) {
			buf, err := c.fetcher.Fetch(ctx, mediaURL)
			if err != nil {
				return "", publish.FetchError(providerName, err)
			}
			defer buf.Release()
			resp, err := c.uploadPhoto(ctx, creds, buf, "", false)
			if err != nil {
				return "", err
			}
			return resp.ID, nil
		})
	receipt := publish.Receipt{Warnings: warnings}
	if err != nil {
		return receipt, err
	}

	if err := publish.Checkpoint(ctx, providerName, publish.StageFeed); err != nil {
		return receipt, err
	}
	form := url.Values{}
	if p.CaptionFinal != "" {
		form.Set("message", p.CaptionFinal)
	}
	for i, id := range photoIDs {
		ref, _ := json.Marshal(map[string]string{"media_fbid": id})
		form.Set(fmt.Sprintf("attached_media[%d]", i), string(ref))
	}
	resp, err := c.api.PostForm(ctx, publish.StageFeed, creds.PageOrAccountID+"/feed", creds.AccessToken, form)
	if err != nil {
		return receipt, err
	}
	if resp.ID == "" {
		return receipt, c.api.MissingID(publish.StageFeed, resp)
	}
	logutil.Debugf("feed post created: post_id=%s media=%d", resp.ID, len(photoIDs))
	receipt.RemoteID = resp.ID
	return receipt, nil
}

func (c *Client) story(ctx context.Context, p publish.Payload, creds publish.Credentials) (string, error) {
	buf, err := publish.MaterializeStory(ctx, c.fetcher, c.renderer, providerName, p)
	if err != nil {
		return "", err
	}
	defer buf.Release()

	if buf.IsVideo {
		return c.videoStory(ctx, creds, buf)
	}
	return c.photoStory(ctx, creds, buf)
}

func (c *Client) photoStory(ctx context.Context, creds publish.Credentials, buf *media.Buffer) (string, error) {
	if err := publish.Checkpoint(ctx, providerName, publish.StageUploadPhoto); err != nil {
		return "", err
	}
	photo, err := c.uploadPhoto(ctx, creds, buf, "", false)
	if err != nil {
		return "", err
	}
	if photo.ID == "" {
		return "", c.api.MissingID(publish.StageUploadPhoto, photo)
	}

	if err := publish.Checkpoint(ctx, providerName, publish.StagePhotoStory); err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("photo_id", photo.ID)
	resp, err := c.api.PostForm(ctx, publish.StagePhotoStory, creds.PageOrAccountID+"/photo_stories", creds.AccessToken, form)
	if err != nil {
		return "", err
	}
	if resp.PostID != "" {
		return resp.PostID, nil
	}
	return photo.ID, nil
}

// videoStory runs the start/transfer/finish protocol with the whole buffer
// sent as a single chunk.
func (c *Client) videoStory(ctx context.Context, creds publish.Credentials, buf *media.Buffer) (string, error) {
	edge := creds.PageOrAccountID + "/video_stories"
	size := buf.Len()

	if err := publish.Checkpoint(ctx, providerName, publish.StageVideoStart); err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("upload_phase", "start")
	form.Set("file_size", strconv.Itoa(size))
	start, err := c.api.PostForm(ctx, publish.StageVideoStart, edge, creds.AccessToken, form)
	if err != nil {
		return "", err
	}
	if start.VideoID == "" || start.UploadURL == "" {
		return "", c.api.MissingID(publish.StageVideoStart, start)
	}
	logutil.Debugf("video story session started: video_id=%s bytes=%d", start.VideoID, size)

	if err := publish.Checkpoint(ctx, providerName, publish.StageVideoTransfer); err != nil {
		return "", err
	}
	data, err := buf.Take()
	if err != nil {
		return "", &publish.UpstreamError{Provider: providerName, Stage: publish.StageVideoTransfer, Code: publish.CodeInternal, Message: err.Error(), Err: err}
	}
	if _, err := c.api.PutBinary(ctx, publish.StageVideoTransfer, start.UploadURL, creds.AccessToken, data, buf.ContentType); err != nil {
		return "", err
	}

	if err := publish.Checkpoint(ctx, providerName, publish.StageVideoFinish); err != nil {
		return "", err
	}
	form = url.Values{}
	form.Set("upload_phase", "finish")
	form.Set("video_id", start.VideoID)
	finish, err := c.api.PostForm(ctx, publish.StageVideoFinish, edge, creds.AccessToken, form)
	if err != nil {
		if isAlreadyFinished(err) {
			logutil.Infof("video story already finished: video_id=%s", start.VideoID)
			return start.VideoID, nil
		}
		return "", err
	}
	if finish.PostID != "" {
		return finish.PostID, nil
	}
	return start.VideoID, nil
}

func (c *Client) uploadPhoto(ctx context.Context, creds publish.Credentials, buf *media.Buffer, caption string, published bool) (graph.Response, error) {
	data, err := buf.Take()
	if err != nil {
		return graph.Response{}, &publish.UpstreamError{Provider: providerName, Stage: publish.StageUploadPhoto, Code: publish.CodeInternal, Message: err.Error(), Err: err}
	}
	fields := map[string]string{"published": strconv.FormatBool(published)}
	if caption != "" {
		fields["message"] = caption
	}
	return c.api.PostMultipart(ctx, publish.StageUploadPhoto, creds.PageOrAccountID+"/photos", creds.AccessToken, fields, graph.File{
		Field:    "source",
		Name:     "photo" + buf.Extension(),
		Data:     data,
		MimeType: buf.ContentType,
	})
}

func (c *Client) uploadVideo(ctx context.Context, creds publish.Credentials, buf *media.Buffer, caption string) (graph.Response, error) {
	data, err := buf.Take()
	if err != nil {
		return graph.Response{}, &publish.UpstreamError{Provider: providerName, Stage: publish.StageUploadVideo, Code: publish.CodeInternal, Message: err.Error(), Err: err}
	}
	fields := map[string]string{}
	if caption != "" {
		fields["description"] = caption
	}
	return c.api.PostMultipart(ctx, publish.StageUploadVideo, creds.PageOrAccountID+"/videos", creds.AccessToken, fields, graph.File{
		Field:    "source",
		Name:     "video" + buf.Extension(),
		Data:     data,
		MimeType: buf.ContentType,
	})
}

func isAlreadyFinished(err error) bool {
	if graph.IsSubcode(err, subcodeAlreadyFinished) {
		return true
	}
	var up *publish.UpstreamError
	if !errors.As(err, &up) || up.Transient {
		return false
	}
	msg := strings.ToLower(up.Message)
	return strings.Contains(msg, "already") && (strings.Contains(msg, "finish") || strings.Contains(msg, "process"))
}

func (c *Client) postOrID(stage publish.Stage, resp graph.Response) (string, error) {
	if resp.PostID != "" {
		return resp.PostID, nil
	}
	if resp.ID != "" {
		return resp.ID, nil
	}
	return "", c.api.MissingID(stage, resp)
}

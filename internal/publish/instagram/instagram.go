package instagram

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/logutil"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/media"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish/graph"
)

const (
	providerName = "instagram"

	// Graph reports "media not ready for publishing" as code 9007 / subcode 2207027.
	codeMediaNotReady    = 9007
	subcodeMediaNotReady = 2207027

	defaultStoryRetries    = 3
	defaultStoryRetryDelay = 5 * time.Second
	cleanupTimeout         = 30 * time.Second
)

// ObjectStore holds story media just long enough for Instagram to pull it.
type ObjectStore interface {
	TempKey(ext string) string
	Put(ctx context.Context, key string, buf *media.Buffer) (string, error)
	Delete(ctx context.Context, key string) error
}

// Config tunes the adapter.
type Config struct {
	Graph graph.Config
	// StoryRetries is the number of extra publish attempts for a story video
	// that is still processing. Zero means the default of 3, negative disables.
	StoryRetries        int
	StoryRetryDelay     time.Duration
	CarouselConcurrency int
}

// Client implements publish.Adapter for Instagram business accounts.
type Client struct {
	api         *graph.Client
	fetcher     media.Fetcher
	renderer    media.Renderer
	store       ObjectStore
	storyRetry  publish.RetryPolicy
	concurrency int
}

// New constructs the Instagram adapter. renderer and store are only needed for stories.
func New(cfg Config, fetcher media.Fetcher, renderer media.Renderer, store ObjectStore) *Client {
	switch {
	case cfg.StoryRetries == 0:
		cfg.StoryRetries = defaultStoryRetries
	case cfg.StoryRetries < 0:
		cfg.StoryRetries = 0
	}
	if cfg.StoryRetryDelay <= 0 {
		cfg.StoryRetryDelay = defaultStoryRetryDelay
	}

	return &Client{
		api:      graph.New(providerName, cfg.Graph),
		fetcher:  fetcher,
		renderer: renderer,
		store:    store,
		storyRetry: publish.RetryPolicy{
			MaxRetries: cfg.StoryRetries,
			Delay:      cfg.StoryRetryDelay,
			Retryable:  isProcessing,
			OnRetry: func(retry int, err error) {
				logutil.Infof("story still processing, retrying: retry=%d delay=%s err=%v", retry, cfg.StoryRetryDelay, err)
			},
		},
		concurrency: cfg.CarouselConcurrency,
	}
}

// Platform identifies the adapter.
func (c *Client) Platform() publish.Platform { return publish.Instagram }

// Supports reports the content types Instagram can publish.
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

func (c *Client) post(ctx context.Context, p publish.Payload, creds publish.Credentials) (string, error) {
	form := url.Values{}
	form.Set("image_url", p.MediaURLs[0])
	if p.CaptionFinal != "" {
		form.Set("caption", p.CaptionFinal)
	}
	containerID, err := c.createContainer(ctx, publish.StageCreate, creds, form)
	if err != nil {
		return "", err
	}
	return c.publishContainer(ctx, creds, containerID)
}

func (c *Client) carousel(ctx context.Context, p publish.Payload, creds publish.Credentials) (publish.Receipt, error) {
	itemIDs, warnings, err := publish.UploadItems(ctx, providerName, publish.StageCreateItem, p.MediaURLs, c.concurrency,
		func(ctx context.Context, index int, mediaURL string) (string, error) {
			form := url.Values{}
			form.Set("image_url", mediaURL)
			form.Set("is_carousel_item", "true")
			return c.createContainer(ctx, publish.StageCreateItem, creds, form)
		})
	receipt := publish.Receipt{Warnings: warnings}
	if err != nil {
		return receipt, err
	}
	logutil.Debugf("carousel items created: count=%d skipped=%d", len(itemIDs), len(warnings))

	form := url.Values{}
	form.Set("media_type", "CAROUSEL")
	form.Set("children", strings.Join(itemIDs, ","))
	if p.CaptionFinal != "" {
		form.Set("caption", p.CaptionFinal)
	}
	containerID, err := c.createContainer(ctx, publish.StageCreateCarousel, creds, form)
	if err != nil {
		return receipt, err
	}

	receipt.RemoteID, err = c.publishContainer(ctx, creds, containerID)
	return receipt, err
}

func (c *Client) story(ctx context.Context, p publish.Payload, creds publish.Credentials) (string, error) {
	if c.store == nil {
		return "", &publish.UpstreamError{Provider: providerName, Stage: publish.StageStoreUpload, Code: publish.CodeInternal, Message: "no object store configured for stories"}
	}

	buf, err := publish.MaterializeStory(ctx, c.fetcher, c.renderer, providerName, p)
	if err != nil {
		return "", err
	}
	defer buf.Release()
	isVideo := buf.IsVideo

	key := c.store.TempKey(buf.Extension())
	defer c.deleteObject(ctx, key)

	if err := publish.Checkpoint(ctx, providerName, publish.StageStoreUpload); err != nil {
		return "", err
	}
	mediaURL, err := c.store.Put(ctx, key, buf)
	if err != nil {
		return "", &publish.UpstreamError{Provider: providerName, Stage: publish.StageStoreUpload, Code: publish.CodeTransport, Message: err.Error(), Transient: true, Err: err}
	}
	logutil.Debugf("story media staged: key=%s bytes=%d video=%t", key, buf.Len(), isVideo)

	form := url.Values{}
	form.Set("media_type", "STORIES")
	if isVideo {
		form.Set("video_url", mediaURL)
	} else {
		form.Set("image_url", mediaURL)
	}
	containerID, err := c.createContainer(ctx, publish.StageCreateStory, creds, form)
	if err != nil {
		return "", err
	}

	policy := c.storyRetry
	if !isVideo {
		policy.MaxRetries = 0
	}
	return publish.Retry(ctx, policy, func(ctx context.Context) (string, error) {
		return c.publishContainer(ctx, creds, containerID)
	})
}

func (c *Client) createContainer(ctx context.Context, stage publish.Stage, creds publish.Credentials, form url.Values) (string, error) {
	if err := publish.Checkpoint(ctx, providerName, stage); err != nil {
		return "", err
	}
	resp, err := c.api.PostForm(ctx, stage, creds.PageOrAccountID+"/media", creds.AccessToken, form)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", c.api.MissingID(stage, resp)
	}
	logutil.Debugf("container created: stage=%s container_id=%s", stage, resp.ID)
	return resp.ID, nil
}

func (c *Client) publishContainer(ctx context.Context, creds publish.Credentials, containerID string) (string, error) {
	if err := publish.Checkpoint(ctx, providerName, publish.StagePublish); err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("creation_id", containerID)
	resp, err := c.api.PostForm(ctx, publish.StagePublish, creds.PageOrAccountID+"/media_publish", creds.AccessToken, form)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", c.api.MissingID(publish.StagePublish, resp)
	}
	logutil.Debugf("container published: container_id=%s media_id=%s", containerID, resp.ID)
	return resp.ID, nil
}

// deleteObject runs after the attempt even when ctx was canceled.
func (c *Client) deleteObject(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := c.store.Delete(ctx, key); err != nil {
		logutil.Errorf("delete staged story media: key=%s err=%v", key, err)
		return
	}
	logutil.Debugf("staged story media deleted: key=%s", key)
}

func isProcessing(err error) bool {
	return graph.IsSubcode(err, subcodeMediaNotReady) || graph.IsCode(err, codeMediaNotReady, 0)
}

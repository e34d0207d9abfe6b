package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/logutil"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/media"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish/graph"
	"github.com/hashicorp/go-cleanhttp"
)

const (
	providerName = "tiktok"

	DefaultBaseURL = "https://open.tiktokapis.com"

	creatorInfoPath = "/v2/post/publish/creator_info/query/"
	initPath        = "/v2/post/publish/video/init/"

	// PrivacySelfOnly is the most restrictive level and the fallback when the
	// creator offers none.
	PrivacySelfOnly = "SELF_ONLY"

	maxTitleRunes = 2200
	maxBodyBytes  = 1 << 20
)

// Config tunes the adapter.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	UploadTimeout time.Duration
	// PreferredPrivacy is tried in order against the creator's offered levels.
	PreferredPrivacy []string
}

// Client implements publish.Adapter for TikTok direct posts.
type Client struct {
	baseURL   string
	api       *http.Client
	upload    *http.Client
	fetcher   media.Fetcher
	preferred []string
}

// New constructs the TikTok adapter.
func New(cfg Config, fetcher media.Fetcher) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 5 * time.Minute
	}

	api := cleanhttp.DefaultPooledClient()
	api.Timeout = cfg.Timeout
	upload := cleanhttp.DefaultPooledClient()
	upload.Timeout = cfg.UploadTimeout

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		api:       api,
		upload:    upload,
		fetcher:   fetcher,
		preferred: cfg.PreferredPrivacy,
	}
}

// Platform identifies the adapter.
func (c *Client) Platform() publish.Platform { return publish.TikTok }

// Supports reports true only for single short-form videos.
func (c *Client) Supports(ct publish.ContentType) bool { return ct == publish.Post }

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

// CreatorInfo is the subset of the creator_info response the adapter uses.
type CreatorInfo struct {
	Username            string   `json:"creator_username"`
	PrivacyLevelOptions []string `json:"privacy_level_options"`
	MaxDurationSec      int      `json:"max_video_post_duration_sec"`
}

type initData struct {
	PublishID string `json:"publish_id"`
	UploadURL string `json:"upload_url"`
}

type postInfo struct {
	Title        string `json:"title"`
	PrivacyLevel string `json:"privacy_level"`
}

type sourceInfo struct {
	Source          string `json:"source"`
	VideoSize       int    `json:"video_size"`
	ChunkSize       int    `json:"chunk_size"`
	TotalChunkCount int    `json:"total_chunk_count"`
}

type initRequest struct {
	PostInfo   postInfo   `json:"post_info"`
	SourceInfo sourceInfo `json:"source_info"`
}

// Execute downloads the video, negotiates privacy, opens a single-chunk
// upload session and transfers the bytes. The returned id is the publish id;
// TikTok finishes publication asynchronously.
func (c *Client) Execute(ctx context.Context, p publish.Payload, creds publish.Credentials) (publish.Receipt, error) {
	if p.ContentType != publish.Post {
		return publish.Receipt{}, publish.ValidationError{Provider: providerName, Reason: fmt.Sprintf("unsupported content type %q", p.ContentType)}
	}
	if len(p.MediaURLs) == 0 {
		return publish.Receipt{}, publish.ValidationError{Provider: providerName, Reason: "missing video"}
	}

	if err := publish.Checkpoint(ctx, providerName, publish.StageFetch); err != nil {
		return publish.Receipt{}, err
	}
	buf, err := c.fetcher.Fetch(ctx, p.MediaURLs[0])
	if err != nil {
		return publish.Receipt{}, publish.FetchError(providerName, err)
	}
	defer buf.Release()
	if !buf.IsVideo {
		return publish.Receipt{}, publish.ValidationError{Provider: providerName, Reason: fmt.Sprintf("media is %s, not a video", buf.ContentType)}
	}
	size := buf.Len()

	if err := publish.Checkpoint(ctx, providerName, publish.StageCreatorInfo); err != nil {
		return publish.Receipt{}, err
	}
	info, rawInfo, err := c.creatorInfo(ctx, creds)
	if err != nil {
		return publish.Receipt{}, err
	}
	privacy := SelectPrivacy(info.PrivacyLevelOptions, c.preferred)
	logutil.Debugf("creator info: username=%s options=%v privacy=%s", info.Username, info.PrivacyLevelOptions, privacy)

	if err := publish.Checkpoint(ctx, providerName, publish.StageInit); err != nil {
		return publish.Receipt{}, err
	}
	body := initRequest{
		PostInfo: postInfo{Title: truncateRunes(p.CaptionFinal, maxTitleRunes), PrivacyLevel: privacy},
		SourceInfo: sourceInfo{
			Source:          "FILE_UPLOAD",
			VideoSize:       size,
			ChunkSize:       size,
			TotalChunkCount: 1,
		},
	}
	var session initData
	if err := c.call(ctx, publish.StageInit, initPath, creds, body, &session); err != nil {
		attachCreatorInfo(err, rawInfo)
		return publish.Receipt{}, err
	}
	if session.PublishID == "" || session.UploadURL == "" {
		err := &publish.UpstreamError{Provider: providerName, Stage: publish.StageInit, Code: publish.CodeMalformed, Message: "init response missing publish_id or upload_url", Transient: true}
		attachCreatorInfo(err, rawInfo)
		return publish.Receipt{}, err
	}
	logutil.Debugf("upload session opened: publish_id=%s bytes=%d", session.PublishID, size)

	if err := publish.Checkpoint(ctx, providerName, publish.StageTransfer); err != nil {
		return publish.Receipt{}, err
	}
	if err := c.transfer(ctx, session.UploadURL, buf); err != nil {
		return publish.Receipt{}, err
	}
	logutil.Infof("video uploaded: publish_id=%s bytes=%d", session.PublishID, size)

	return publish.Receipt{RemoteID: session.PublishID}, nil
}

func (c *Client) creatorInfo(ctx context.Context, creds publish.Credentials) (CreatorInfo, json.RawMessage, error) {
	var info CreatorInfo
	raw, err := c.callRaw(ctx, publish.StageCreatorInfo, creatorInfoPath, creds, struct{}{}, &info)
	return info, raw, err
}

// SelectPrivacy returns the first preferred level the creator offers, else
// the first offered level, else SELF_ONLY.
func SelectPrivacy(offered, preferred []string) string {
	for _, want := range preferred {
		for _, have := range offered {
			if strings.EqualFold(want, have) {
				return have
			}
		}
	}
	if len(offered) > 0 {
		return offered[0]
	}
	return PrivacySelfOnly
}

func (c *Client) call(ctx context.Context, stage publish.Stage, path string, creds publish.Credentials, in, out any) error {
	_, err := c.callRaw(ctx, stage, path, creds, in, out)
	return err
}

// callRaw POSTs JSON and decodes the "data" member into out. The raw body is
// returned for diagnostics.
func (c *Client) callRaw(ctx context.Context, stage publish.Stage, path string, creds publish.Credentials, in, out any) (json.RawMessage, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", stage, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, publish.Transport(providerName, stage, err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, publish.Transport(providerName, stage, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, publish.Transport(providerName, stage, err)
	}

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error apiError        `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return body, &publish.UpstreamError{
			Provider:   providerName,
			Stage:      stage,
			StatusCode: resp.StatusCode,
			Code:       publish.CodeMalformed,
			Message:    fmt.Sprintf("malformed response (status %d)", resp.StatusCode),
			Transient:  true,
			Debug:      map[string]any{"body": publish.Truncate(string(body), 1200)},
			Err:        err,
		}
	}

	code := strings.ToLower(envelope.Error.Code)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (code != "" && code != "ok") {
		if code == "" {
			code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		msg := envelope.Error.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		up := &publish.UpstreamError{
			Provider:   providerName,
			Stage:      stage,
			StatusCode: resp.StatusCode,
			Code:       code,
			Message:    msg,
			Transient:  resp.StatusCode >= 500,
		}
		if envelope.Error.LogID != "" {
			up.Debug = map[string]any{"log_id": envelope.Error.LogID}
		}
		return body, up
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return body, &publish.UpstreamError{Provider: providerName, Stage: stage, Code: publish.CodeMalformed, Message: err.Error(), Transient: true, Err: err}
		}
	}
	return body, nil
}

// transfer PUTs the whole video in one request.
func (c *Client) transfer(ctx context.Context, uploadURL string, buf *media.Buffer) error {
	contentType := buf.ContentType
	if !strings.HasPrefix(contentType, "video/") {
		contentType = "video/mp4"
	}
	data, err := buf.Take()
	if err != nil {
		return &publish.UpstreamError{Provider: providerName, Stage: publish.StageTransfer, Code: publish.CodeInternal, Message: err.Error(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return publish.Transport(providerName, publish.StageTransfer, err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Range", graph.ContentRange(len(data)))

	resp, err := c.upload.Do(req)
	if err != nil {
		return publish.Transport(providerName, publish.StageTransfer, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return &publish.UpstreamError{
			Provider:   providerName,
			Stage:      publish.StageTransfer,
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("http_%d", resp.StatusCode),
			Message:    fmt.Sprintf("upload rejected with status %d", resp.StatusCode),
			Transient:  resp.StatusCode >= 500,
			Debug:      map[string]any{"body": publish.Truncate(string(body), 1200)},
		}
	}
	return nil
}

func attachCreatorInfo(err error, raw json.RawMessage) {
	up, ok := err.(*publish.UpstreamError)
	if !ok || len(raw) == 0 {
		return
	}
	if up.Debug == nil {
		up.Debug = map[string]any{}
	}
	up.Debug["creator_info"] = raw
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

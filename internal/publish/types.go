// Package publish drives normalized posts through platform publish protocols.
package publish

import "context"

// Platform identifies a target social network.
type Platform string

const (
	Instagram Platform = "instagram"
	Facebook  Platform = "facebook"
	TikTok    Platform = "tiktok"
)

// ContentType identifies the shape of a post.
type ContentType string

const (
	Post     ContentType = "post"
	Carousel ContentType = "carousel"
	Story    ContentType = "story"
)

// Stage names the adapter step an error came from.
type Stage string

const (
	StageValidate       Stage = "validate"
	StageCredentials    Stage = "credentials"
	StageDispatch       Stage = "dispatch"
	StageFetch          Stage = "fetch_media"
	StageRender         Stage = "render"
	StageStoreUpload    Stage = "store_upload"
	StageCreate         Stage = "create_container"
	StageCreateItem     Stage = "create_item"
	StageCreateCarousel Stage = "create_carousel"
	StageCreateStory    Stage = "create_story"
	StagePublish        Stage = "publish"
	StageUploadPhoto    Stage = "upload_photo"
	StageUploadVideo    Stage = "upload_video"
	StageFeed           Stage = "create_feed_post"
	StagePhotoStory     Stage = "photo_story"
	StageVideoStart     Stage = "video_start"
	StageVideoTransfer  Stage = "video_transfer"
	StageVideoFinish    Stage = "video_finish"
	StageCreatorInfo    Stage = "creator_info"
	StageInit           Stage = "init_upload"
	StageTransfer       Stage = "transfer"
)

// Payload is the canonical post description the engine publishes.
type Payload struct {
	Platform     Platform    `json:"platform" yaml:"platform"`
	ContentType  ContentType `json:"content_type" yaml:"content_type"`
	MediaURLs    []string    `json:"media_urls" yaml:"media_urls"`
	CaptionFinal string      `json:"caption_final" yaml:"caption_final"`
	AudioURL     string      `json:"audio_url,omitempty" yaml:"audio_url,omitempty"`
}

// Credentials are resolved before a publish and opaque to the engine.
type Credentials struct {
	AccessToken     string `json:"-"`
	PageOrAccountID string `json:"page_or_account_id,omitempty"`
}

// Receipt is what an adapter hands back on success.
type Receipt struct {
	RemoteID string
	Warnings []string
}

// Adapter encodes one platform's publish state machine.
type Adapter interface {
	Platform() Platform
	Supports(ContentType) bool
	Execute(ctx context.Context, payload Payload, creds Credentials) (Receipt, error)
}

// Status classifies a result for callers.
type Status string

const (
	StatusOK           Status = "ok"
	StatusSimulated    Status = "simulated"
	StatusBadRequest   Status = "bad_request"
	StatusNotConnected Status = "not_connected"
	StatusUpstream     Status = "upstream_error"
)

// Kind is the error taxonomy bucket.
type Kind string

const (
	KindConfiguration     Kind = "configuration"
	KindValidation        Kind = "validation"
	KindUpstreamBusiness  Kind = "upstream_business"
	KindUpstreamTransient Kind = "upstream_transient"
	KindPartialFailure    Kind = "partial_failure"
)

// ErrorDetail is the structured error surfaced to callers.
type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Stage   Stage  `json:"stage"`
	Kind    Kind   `json:"kind"`
}

// Result is the uniform outcome of a publish.
type Result struct {
	Success           bool           `json:"success"`
	Status            Status         `json:"status"`
	Simulated         bool           `json:"simulated"`
	RemotePostID      string         `json:"remote_post_id,omitempty"`
	NormalizedPayload Payload        `json:"normalized_payload"`
	Warnings          []string       `json:"warnings,omitempty"`
	Error             *ErrorDetail   `json:"error,omitempty"`
	Debug             map[string]any `json:"debug,omitempty"`
}

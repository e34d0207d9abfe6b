package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/logutil"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/media"
)

// MaterializeStory produces the bytes a story is published from:
//   - audio present: caption burned in (if any), then audio muxed into a video;
//   - caption only: caption burned in, kind unchanged;
//   - neither: the source bytes as downloaded.
//
// The caller owns the returned buffer.
func MaterializeStory(ctx context.Context, fetcher media.Fetcher, renderer media.Renderer, provider string, p Payload) (*media.Buffer, error) {
	if len(p.MediaURLs) == 0 {
		return nil, ValidationError{Provider: provider, Reason: "story requires a media url"}
	}
	if err := Checkpoint(ctx, provider, StageFetch); err != nil {
		return nil, err
	}

	base, err := fetcher.Fetch(ctx, p.MediaURLs[0])
	if err != nil {
		return nil, FetchError(provider, err)
	}
	if p.AudioURL == "" && p.CaptionFinal == "" {
		return base, nil
	}
	if renderer == nil {
		base.Release()
		return nil, &UpstreamError{Provider: provider, Stage: StageRender, Code: CodeInternal, Message: "no story renderer configured"}
	}

	visual := base
	if p.CaptionFinal != "" {
		if err := Checkpoint(ctx, provider, StageRender); err != nil {
			base.Release()
			return nil, err
		}
		burned, err := renderer.BurnCaption(ctx, base, p.CaptionFinal)
		base.Release()
		if err != nil {
			return nil, renderError(provider, err)
		}
		logutil.Debugf("story caption burned: bytes=%d video=%t", burned.Len(), burned.IsVideo)
		visual = burned
	}
	if p.AudioURL == "" {
		return visual, nil
	}

	if err := Checkpoint(ctx, provider, StageFetch); err != nil {
		visual.Release()
		return nil, err
	}
	audio, err := fetcher.Fetch(ctx, p.AudioURL)
	if err != nil {
		visual.Release()
		return nil, FetchError(provider, err)
	}
	defer audio.Release()
	defer visual.Release()

	if err := Checkpoint(ctx, provider, StageRender); err != nil {
		return nil, err
	}
	video, err := renderer.MuxAudio(ctx, visual, audio)
	if err != nil {
		return nil, renderError(provider, err)
	}
	video.IsVideo = true
	logutil.Debugf("story audio muxed: bytes=%d", video.Len())
	return video, nil
}

// FetchError converts a media download failure into an UpstreamError.
func FetchError(provider string, err error) error {
	var fe media.FetchError
	if errors.As(err, &fe) {
		return &UpstreamError{
			Provider:   provider,
			Stage:      StageFetch,
			StatusCode: fe.StatusCode,
			Code:       fmt.Sprintf("http_%d", fe.StatusCode),
			Message:    fe.Error(),
			Err:        err,
		}
	}
	return Transport(provider, StageFetch, err)
}

func renderError(provider string, err error) error {
	return &UpstreamError{Provider: provider, Stage: StageRender, Code: CodeInternal, Message: err.Error(), Err: err}
}

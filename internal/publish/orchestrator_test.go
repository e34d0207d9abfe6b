package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	platform Platform
	types    []ContentType
	receipt  Receipt
	err      error

	calls    int
	lastSent Payload
	lastCred Credentials
}

func (f *fakeAdapter) Platform() Platform { return f.platform }

func (f *fakeAdapter) Supports(ct ContentType) bool {
	for _, t := range f.types {
		if t == ct {
			return true
		}
	}
	return false
}

func (f *fakeAdapter) Execute(_ context.Context, p Payload, c Credentials) (Receipt, error) {
	f.calls++
	f.lastSent = p
	f.lastCred = c
	return f.receipt, f.err
}

func instagramPost() Payload {
	return Payload{
		Platform:     Instagram,
		ContentType:  Post,
		MediaURLs:    []string{"https://x/a.jpg"},
		CaptionFinal: "Hello",
	}
}

func TestPublishSucceeds(t *testing.T) {
	adapter := &fakeAdapter{platform: Instagram, types: []ContentType{Post}, receipt: Receipt{RemoteID: "1789"}}
	creds := Credentials{AccessToken: "token", PageOrAccountID: "17841"}
	o := NewOrchestrator(StaticResolver{Instagram: creds}, adapter)

	res := o.Publish(context.Background(), "ws-1", instagramPost())

	assert.True(t, res.Success)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "1789", res.RemotePostID)
	assert.Nil(t, res.Error)
	assert.Equal(t, 1, adapter.calls)
	assert.Equal(t, creds, adapter.lastCred)
}

func TestPublishSimulatesWithoutCredentials(t *testing.T) {
	adapter := &fakeAdapter{platform: Instagram, types: []ContentType{Post}}
	o := NewOrchestrator(SimulatedResolver{}, adapter)

	res := o.Publish(context.Background(), "ws-1", instagramPost())

	assert.True(t, res.Success)
	assert.True(t, res.Simulated)
	assert.Equal(t, StatusSimulated, res.Status)
	assert.Empty(t, res.RemotePostID)
	assert.Zero(t, adapter.calls)
}

func TestSimulatedPayloadMatchesDispatchedPayload(t *testing.T) {
	in := Payload{
		Platform:     "FACEBOOK",
		ContentType:  "Carousel",
		MediaURLs:    []string{" https://x/2.jpg", "https://x/1.jpg "},
		CaptionFinal: " caption ",
	}

	simulated := NewOrchestrator(SimulatedResolver{}, &fakeAdapter{platform: Facebook, types: []ContentType{Carousel}}).
		Publish(context.Background(), "", in)

	dispatched := &fakeAdapter{platform: Facebook, types: []ContentType{Carousel}, receipt: Receipt{RemoteID: "p"}}
	NewOrchestrator(StaticResolver{Facebook: {AccessToken: "t", PageOrAccountID: "1"}}, dispatched).
		Publish(context.Background(), "", in)

	assert.Equal(t, dispatched.lastSent, simulated.NormalizedPayload)
}

func TestPublishValidationFailsBeforeResolve(t *testing.T) {
	resolved := false
	resolver := ResolverFunc(func(context.Context, Platform, string) (Credentials, bool, error) {
		resolved = true
		return Credentials{AccessToken: "t"}, true, nil
	})
	adapter := &fakeAdapter{platform: TikTok, types: []ContentType{Post}}
	o := NewOrchestrator(resolver, adapter)

	res := o.Publish(context.Background(), "", Payload{Platform: TikTok, ContentType: Post})

	assert.False(t, res.Success)
	assert.Equal(t, StatusBadRequest, res.Status)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "missing video")
	assert.Equal(t, KindValidation, res.Error.Kind)
	assert.False(t, resolved)
	assert.Zero(t, adapter.calls)
}

func TestPublishUnsupportedContentType(t *testing.T) {
	adapter := &fakeAdapter{platform: TikTok, types: []ContentType{Post}}
	o := NewOrchestrator(SimulatedResolver{}, adapter)

	res := o.Publish(context.Background(), "", Payload{Platform: TikTok, ContentType: Story, MediaURLs: []string{"https://x/v.mp4"}})

	assert.Equal(t, StatusBadRequest, res.Status)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "not supported")
}

func TestPublishNotConnected(t *testing.T) {
	resolver := ResolverFunc(func(context.Context, Platform, string) (Credentials, bool, error) {
		return Credentials{}, false, ConfigurationError{Provider: "instagram", Variables: []string{"SMM_INSTAGRAM_ACCOUNT_ID"}}
	})
	o := NewOrchestrator(resolver, &fakeAdapter{platform: Instagram, types: []ContentType{Post}})

	res := o.Publish(context.Background(), "", instagramPost())

	assert.False(t, res.Success)
	assert.Equal(t, StatusNotConnected, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, KindConfiguration, res.Error.Kind)
}

func TestPublishUpstreamError(t *testing.T) {
	adapter := &fakeAdapter{
		platform: Instagram,
		types:    []ContentType{Post},
		err: &UpstreamError{
			Provider:   "instagram",
			Stage:      StageCreate,
			StatusCode: 400,
			Code:       "100",
			Subcode:    "2207052",
			Message:    "media could not be fetched",
		},
	}
	o := NewOrchestrator(StaticResolver{Instagram: {AccessToken: "t", PageOrAccountID: "1"}}, adapter)

	res := o.Publish(context.Background(), "", instagramPost())

	assert.False(t, res.Success)
	assert.Equal(t, StatusUpstream, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, "100", res.Error.Code)
	assert.Equal(t, StageCreate, res.Error.Stage)
	assert.Equal(t, KindUpstreamBusiness, res.Error.Kind)
	assert.Equal(t, 400, res.Debug["http_status"])
	assert.Equal(t, "2207052", res.Debug["subcode"])
	assert.Empty(t, res.RemotePostID)
}

func TestPublishEmptyRemoteIDIsFailure(t *testing.T) {
	adapter := &fakeAdapter{platform: Instagram, types: []ContentType{Post}}
	o := NewOrchestrator(StaticResolver{Instagram: {AccessToken: "t", PageOrAccountID: "1"}}, adapter)

	res := o.Publish(context.Background(), "", instagramPost())

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeMalformed, res.Error.Code)
}

func TestPublishKeepsWarningsOnFailure(t *testing.T) {
	adapter := &fakeAdapter{
		platform: Facebook,
		types:    []ContentType{Carousel},
		receipt:  Receipt{Warnings: []string{"media 1 skipped"}},
		err:      &UpstreamError{Provider: "facebook", Stage: StageFeed, Code: "1", Message: "boom"},
	}
	o := NewOrchestrator(StaticResolver{Facebook: {AccessToken: "t", PageOrAccountID: "1"}}, adapter)

	res := o.Publish(context.Background(), "", Payload{Platform: Facebook, ContentType: Carousel, MediaURLs: []string{"https://x/1.jpg", "https://x/2.jpg"}})

	assert.False(t, res.Success)
	assert.Equal(t, []string{"media 1 skipped"}, res.Warnings)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status Status
		kind   Kind
		code   string
	}{
		{"validation", ValidationError{Reason: "x"}, StatusBadRequest, KindValidation, CodeValidation},
		{"configuration", ConfigurationError{Provider: "tiktok"}, StatusNotConnected, KindConfiguration, CodeConfiguration},
		{"no media", NoMediaUploadedError{Provider: "facebook", Attempted: 2}, StatusUpstream, KindPartialFailure, CodeNoMediaUploaded},
		{"transient", Transport("instagram", StagePublish, errors.New("connection reset")), StatusUpstream, KindUpstreamTransient, CodeTransport},
		{"timeout", context.DeadlineExceeded, StatusUpstream, KindUpstreamTransient, CodeTimeout},
		{"unknown", errors.New("boom"), StatusUpstream, KindUpstreamTransient, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detail, status, _ := Translate(tt.err, StageDispatch)
			require.NotNil(t, detail)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, detail.Kind)
			assert.Equal(t, tt.code, detail.Code)
		})
	}
}

/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/config"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/media"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish/facebook"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish/graph"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish/instagram"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/publish/tiktok"
	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/storage/s3store"
)

// buildOrchestrator wires the adapters described by c behind resolver.
func buildOrchestrator(ctx context.Context, c *config.Config, resolver publish.CredentialResolver) (*publish.Orchestrator, error) {
	fetcher := media.NewHTTPFetcher(media.FetcherConfig{
		Timeout:  c.HTTP.FetchTimeout.D(),
		Retries:  c.HTTP.FetchRetries,
		MaxBytes: c.HTTP.MaxMediaBytes,
	})
	renderer := media.NewFFmpegRenderer(c.Renderer.FFmpegPath, c.Renderer.FontFile)

	var store instagram.ObjectStore
	if c.Storage.Enabled() {
		s, err := s3store.New(ctx, s3store.Config{
			Bucket:          c.Storage.Bucket,
			Region:          c.Storage.Region,
			Endpoint:        c.Storage.Endpoint,
			Prefix:          c.Storage.Prefix,
			PublicBaseURL:   c.Storage.PublicBaseURL,
			PresignTTL:      c.Storage.PresignTTL.D(),
			UsePathStyle:    c.Storage.UsePathStyle,
			Timeout:         c.HTTP.UploadTimeout.D(),
			AccessKeyID:     os.Getenv("SMM_STORAGE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("SMM_STORAGE_SECRET_ACCESS_KEY"),
		})
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		store = s
	}

	graphCfg := graph.Config{
		BaseURL:       c.Graph.BaseURL,
		Version:       c.Graph.Version,
		Timeout:       c.HTTP.RequestTimeout.D(),
		UploadTimeout: c.HTTP.UploadTimeout.D(),
	}

	adapters := []publish.Adapter{
		instagram.New(instagram.Config{
			Graph:               graphCfg,
			StoryRetries:        storyRetries(c.Instagram.StoryRetries),
			StoryRetryDelay:     c.Instagram.StoryRetryDelay.D(),
			CarouselConcurrency: c.Carousel.Concurrency,
		}, fetcher, renderer, store),
		facebook.New(facebook.Config{
			Graph:               graphCfg,
			CarouselConcurrency: c.Carousel.Concurrency,
		}, fetcher, renderer),
		tiktok.New(tiktok.Config{
			BaseURL:          c.TikTok.BaseURL,
			Timeout:          c.HTTP.RequestTimeout.D(),
			UploadTimeout:    c.HTTP.UploadTimeout.D(),
			PreferredPrivacy: c.TikTok.PreferredPrivacy,
		}, fetcher),
	}

	return publish.NewOrchestrator(resolver, adapters...), nil
}

// storyRetries maps the configured count onto the adapter's convention,
// where zero selects the default.
func storyRetries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

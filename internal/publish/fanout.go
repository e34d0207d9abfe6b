package publish

import (
	"context"
	"fmt"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/logutil"
	"golang.org/x/sync/errgroup"
)

// DefaultItemConcurrency bounds carousel item uploads in flight.
const DefaultItemConcurrency = 3

// ItemUploader uploads one carousel item and returns its platform id.
type ItemUploader func(ctx context.Context, index int, mediaURL string) (string, error)

// UploadItems uploads every url best-effort with at most limit calls in
// flight. Failed items are skipped and reported as warnings; ids keep the
// input order. If nothing succeeded it returns NoMediaUploadedError.
func UploadItems(ctx context.Context, provider string, stage Stage, urls []string, limit int, upload ItemUploader) ([]string, []string, error) {
	if limit <= 0 {
		limit = DefaultItemConcurrency
	}

	ids := make([]string, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, u := range urls {
		g.Go(func() error {
			if err := Checkpoint(ctx, provider, stage); err != nil {
				errs[i] = err
				return nil
			}
			id, err := upload(ctx, i, u)
			if err == nil && id == "" {
				err = &UpstreamError{Provider: provider, Stage: stage, Code: CodeMalformed, Message: "platform returned no identifier"}
			}
			ids[i], errs[i] = id, err
			return nil
		})
	}
	_ = g.Wait()

	var (
		uploaded []string
		warnings []string
		failures []ItemFailure
	)
	for i, err := range errs {
		if err == nil {
			uploaded = append(uploaded, ids[i])
			continue
		}
		logutil.Warnf("carousel item skipped: provider=%s index=%d url=%s err=%v", provider, i, urls[i], err)
		warnings = append(warnings, fmt.Sprintf("media %d skipped: %v", i+1, err))
		failures = append(failures, ItemFailure{
			Index:       i,
			URL:         urls[i],
			Reason:      err.Error(),
			Unreachable: StageOf(err) == StageFetch || IsTransient(err),
		})
	}

	if len(uploaded) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, warnings, Transport(provider, stage, err)
		}
		return nil, warnings, NoMediaUploadedError{Provider: provider, Stage: stage, Attempted: len(urls), Failures: failures}
	}
	return uploaded, warnings, nil
}

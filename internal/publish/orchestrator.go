package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/aiautomazioni-maker/smm-digitale-sub000/internal/logutil"
)

// Orchestrator selects an adapter for a payload, drives it and folds the
// outcome into a Result. It keeps no state between calls.
type Orchestrator struct {
	resolver CredentialResolver
	adapters map[Platform]Adapter
}

// NewOrchestrator registers adapters by platform. A later adapter for the same
// platform replaces an earlier one.
func NewOrchestrator(resolver CredentialResolver, adapters ...Adapter) *Orchestrator {
	if resolver == nil {
		resolver = SimulatedResolver{}
	}
	o := &Orchestrator{resolver: resolver, adapters: make(map[Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		o.adapters[a.Platform()] = a
	}
	return o
}

// Publish runs one publish attempt. It never returns an error: the Result
// carries either a success identifier or a structured error.
func (o *Orchestrator) Publish(ctx context.Context, workspace string, payload Payload) Result {
	start := time.Now()
	normalized, err := Normalize(payload)
	if err != nil {
		logutil.Infof("publish rejected: workspace=%s platform=%s type=%s err=%v", workspace, payload.Platform, payload.ContentType, err)
		return failure(normalized, err, StageValidate)
	}

	adapter, ok := o.adapters[normalized.Platform]
	if !ok || !adapter.Supports(normalized.ContentType) {
		err := ValidationError{
			Provider: string(normalized.Platform),
			Reason:   fmt.Sprintf("content type %q is not supported", normalized.ContentType),
		}
		return failure(normalized, err, StageDispatch)
	}

	creds, ok, err := o.resolver.Resolve(ctx, normalized.Platform, workspace)
	if err != nil {
		logutil.Infof("publish not connected: workspace=%s platform=%s err=%v", workspace, normalized.Platform, err)
		return failure(normalized, err, StageCredentials)
	}
	if !ok {
		logutil.Infof("publish simulated: workspace=%s platform=%s type=%s media=%d", workspace, normalized.Platform, normalized.ContentType, len(normalized.MediaURLs))
		return Result{
			Success:           true,
			Status:            StatusSimulated,
			Simulated:         true,
			NormalizedPayload: normalized,
		}
	}
	if err := creds.Validate(normalized.Platform); err != nil {
		return failure(normalized, err, StageCredentials)
	}

	logutil.Infof("publish start: workspace=%s platform=%s type=%s media=%d", workspace, normalized.Platform, normalized.ContentType, len(normalized.MediaURLs))
	receipt, err := adapter.Execute(ctx, normalized, creds)
	if err == nil && receipt.RemoteID == "" {
		err = &UpstreamError{
			Provider: string(normalized.Platform),
			Stage:    StagePublish,
			Code:     CodeMalformed,
			Message:  "platform returned no identifier",
		}
	}
	if err != nil {
		logutil.Errorf("publish failed: workspace=%s platform=%s type=%s stage=%s elapsed=%s err=%v",
			workspace, normalized.Platform, normalized.ContentType, StageOf(err), time.Since(start).Round(time.Millisecond), err)
		res := failure(normalized, err, StageDispatch)
		res.Warnings = receipt.Warnings
		return res
	}

	logutil.Infof("publish ok: workspace=%s platform=%s type=%s remote_id=%s elapsed=%s",
		workspace, normalized.Platform, normalized.ContentType, receipt.RemoteID, time.Since(start).Round(time.Millisecond))
	return Result{
		Success:           true,
		Status:            StatusOK,
		RemotePostID:      receipt.RemoteID,
		NormalizedPayload: normalized,
		Warnings:          receipt.Warnings,
	}
}

func failure(payload Payload, err error, stage Stage) Result {
	detail, status, debug := Translate(err, stage)
	return Result{
		Success:           false,
		Status:            status,
		NormalizedPayload: payload,
		Error:             detail,
		Debug:             debug,
	}
}

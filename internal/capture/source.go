package capture

import (
	"context"

	"github.com/dgnsrekt/apicapture/internal/types"
)

// Handle identifies an attached observation channel returned by Source.Attach.
type Handle interface {
	Target() types.TargetInfo
}

// EventHandler receives traffic events from a Source. Engine implements it.
type EventHandler interface {
	OnRequestStart(ev types.RequestStart)
	OnResponseReceived(ev types.ResponseReceived)
	OnLoadingFailed(ev types.LoadingFailed)
}

// Source is the instrumented runtime the engine observes.
type Source interface {
	// ActiveTarget returns the tab to capture, or ErrNoTarget.
	ActiveTarget(ctx context.Context) (types.TargetInfo, error)
	Attach(ctx context.Context, target types.TargetInfo, h EventHandler) (Handle, error)
	EnableObservation(ctx context.Context, h Handle) error
	Detach(ctx context.Context, h Handle) error
	// FetchBody returns immediately; done is called later from another goroutine.
	FetchBody(h Handle, requestID string, done func(types.BodyResult))
}

// Exporter serializes a finished session and delivers it.
type Exporter interface {
	Export(ctx context.Context, sessionID string, records []*types.Record) (types.ExportResult, error)
}

package capture

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/apicapture/internal/types"
	"github.com/google/uuid"
)

// State is the capture session lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateAttaching  State = "attaching"
	StateMonitoring State = "monitoring"
	StateDraining   State = "draining"
)

// Status event types published to the listener.
const (
	EventState          = "state"
	EventStartFailed    = "start_failed"
	EventExportOK       = "export_succeeded"
	EventExportFailed   = "export_failed"
	EventExportSkipped  = "export_skipped"
	EventDrainTimedOut  = "drain_timed_out"
	exportTimeout       = 30 * time.Second
	detachedBodyMessage = "target detached"
)

// ExportStatus is the outcome of the most recent export attempt.
type ExportStatus struct {
	types.ExportResult
	Error string `json:"error,omitempty"`
}

// Status is a read-only view of the engine.
type Status struct {
	State      State             `json:"state"`
	SessionID  string            `json:"session_id,omitempty"`
	Target     *types.TargetInfo `json:"target,omitempty"`
	Intake     bool              `json:"accepting_requests"`
	Records    int               `json:"records"`
	Pending    int               `json:"pending"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	StoppedAt  *time.Time        `json:"stopped_at,omitempty"`
	LastExport *ExportStatus     `json:"last_export,omitempty"`
}

// StatusEvent is delivered to the listener after each transition or export.
type StatusEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Status  Status `json:"status"`
}

// Options tune an Engine.
type Options struct {
	// DrainTimeout bounds how long Stop waits for pending bodies. Zero waits forever.
	DrainTimeout time.Duration
	// MaxBodyBytes truncates response bodies. Zero keeps everything.
	MaxBodyBytes int
	// Listener receives status events. It is called without the engine lock held.
	Listener func(StatusEvent)
	// Now overrides the clock for request timestamps.
	Now func() time.Time
}

// Engine correlates traffic events into records and exports them when a
// stopped session has no response bodies left in flight.
type Engine struct {
	source   Source
	matcher  Matcher
	exporter Exporter
	opts     Options

	mu         sync.Mutex
	state      State
	intake     bool
	gen        uint64
	sessionID  string
	handle     Handle
	target     *types.TargetInfo
	store      *RecordStore
	pending    *PendingTracker
	drainTimer *time.Timer
	startedAt  time.Time
	stoppedAt  time.Time
	lastExport *ExportStatus
	queued     []StatusEvent
	exporting  bool
	job        *exportJob
}

// exportJob is a snapshot being delivered with the engine lock released.
type exportJob struct {
	gen       uint64
	sessionID string
	records   []*types.Record
	finalize  bool
}

func NewEngine(source Source, matcher Matcher, exporter Exporter, opts Options) *Engine {
	if matcher == nil {
		matcher = SubstringMatcher{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		source:   source,
		matcher:  matcher,
		exporter: exporter,
		opts:     opts,
		state:    StateIdle,
		store:    NewRecordStore(),
		pending:  NewPendingTracker(),
	}
}

// Start begins a capture session on the Source's active target. Calling it
// while a session is in progress is a logged no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		slog.Info("capture already running", "state", e.state, "session_id", e.sessionID)
		e.unlock()
		return nil
	}
	e.store.Reset()
	e.pending.Reset()
	e.gen++
	gen := e.gen
	e.sessionID = uuid.NewString()
	e.intake = false
	e.handle = nil
	e.target = nil
	e.startedAt = e.opts.Now()
	e.stoppedAt = time.Time{}
	e.setState(StateAttaching)
	sessionID := e.sessionID
	e.unlock()

	slog.Info("capture start requested", "session_id", sessionID)

	target, err := e.source.ActiveTarget(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoTarget) {
			return e.abortStart(gen, newError(CodeCDPUnavailable, "active target lookup failed", err))
		}
		return e.abortStart(gen, newError(CodeNoActiveTarget, "no active target", err))
	}
	if IsProtectedURL(target.URL) {
		return e.abortStart(gen, newError(CodeProtectedTarget, "cannot capture on protected page "+target.URL, nil))
	}
	if !e.stillAttaching(gen) {
		slog.Info("capture start superseded before attach", "session_id", sessionID)
		return nil
	}

	handle, err := e.source.Attach(ctx, target, e)
	if err != nil {
		return e.abortStart(gen, newError(CodeAttachFailed, "attach to target failed", err))
	}

	e.mu.Lock()
	if e.gen != gen || e.state != StateAttaching {
		e.unlock()
		slog.Info("capture stopped during attach, detaching", "session_id", sessionID)
		if err := e.source.Detach(ctx, handle); err != nil {
			slog.Warn("detach after cancelled attach failed", "session_id", sessionID, "error", err)
		}
		return nil
	}
	e.handle = handle
	t := target
	e.target = &t
	e.unlock()

	slog.Info("attached to target", "session_id", sessionID, "target_id", target.TargetID, "url", target.URL)

	if err := e.source.EnableObservation(ctx, handle); err != nil {
		cerr := newError(CodeEnableFailed, "enable network observation failed", err)
		e.mu.Lock()
		current := e.gen == gen && e.state == StateAttaching
		if current {
			e.queue(EventStartFailed, cerr.Error())
		}
		e.unlock()
		if !current {
			// Stop already detached this handle; a newer session may be running.
			slog.Info("enable failed after capture was stopped", "session_id", sessionID, "error", err)
			return nil
		}
		slog.Error("capture start failed", "session_id", sessionID, "error", cerr)
		e.Stop(ctx)
		return cerr
	}

	e.mu.Lock()
	defer e.unlock()
	if e.gen != gen || e.state != StateAttaching {
		return nil
	}
	e.intake = true
	e.setState(StateMonitoring)
	slog.Info("network monitoring enabled", "session_id", sessionID)
	return nil
}

func (e *Engine) stillAttaching(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen == gen && e.state == StateAttaching
}

func (e *Engine) abortStart(gen uint64, err error) error {
	slog.Error("capture start failed", "error", err)
	e.mu.Lock()
	defer e.unlock()
	if e.gen == gen && e.state == StateAttaching {
		e.queue(EventStartFailed, err.Error())
		e.setState(StateIdle)
	}
	return err
}

// Stop ends request intake immediately, detaches from the Source and lets
// in-flight responses finish. The session is exported once nothing is pending.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.state != StateMonitoring && e.state != StateAttaching {
		slog.Info("capture not running", "state", e.state)
		e.unlock()
		return
	}
	gen := e.gen
	e.intake = false
	e.stoppedAt = e.opts.Now()
	e.setState(StateDraining)
	e.armDrainTimer(gen)
	handle := e.handle
	sessionID := e.sessionID
	e.unlock()

	slog.Info("capture stopping", "session_id", sessionID)

	if handle != nil {
		if err := e.source.Detach(ctx, handle); err != nil {
			slog.Warn("detach failed", "session_id", sessionID, "error", err)
		} else {
			slog.Info("detached from target", "session_id", sessionID)
		}
	}

	e.mu.Lock()
	defer e.unlock()
	if e.gen != gen {
		return
	}
	e.handle = nil
	e.checkDrainLocked()
}

// Export re-delivers records retained after a failed export. It is only
// valid while no session is running.
func (e *Engine) Export(ctx context.Context) (types.ExportResult, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.unlock()
		return types.ExportResult{}, newError(CodeValidation, "capture session in progress ("+string(e.state)+")", nil)
	}
	if e.exporting {
		e.unlock()
		return types.ExportResult{}, newError(CodeValidation, "export already in progress", nil)
	}
	if e.store.Len() == 0 {
		e.unlock()
		return types.ExportResult{}, newError(CodeValidation, "no retained records to export", nil)
	}
	job := e.beginExportLocked(false)
	e.unlock()
	return e.runExport(ctx, job)
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

// Record returns a copy of the record for id in the current session.
func (e *Engine) Record(id string) (*types.Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Get(id)
}

func (e *Engine) OnRequestStart(ev types.RequestStart) {
	e.mu.Lock()
	defer e.unlock()
	if e.state != StateMonitoring || !e.intake {
		return
	}
	if !e.matcher.Match(ev) {
		return
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = e.opts.Now()
	}
	if e.store.UpsertRequest(ev.RequestID, ev.URL, ts, ev.PostData, hasAuthHeader(ev.Headers)) {
		slog.Debug("request captured", "request_id", ev.RequestID, "url", ev.URL)
	}
}

func (e *Engine) OnResponseReceived(ev types.ResponseReceived) {
	e.mu.Lock()
	id := ev.RequestID
	if !e.store.Has(id) {
		e.unlock()
		return
	}
	e.store.SetResponseMeta(id, ev.Status)
	if e.pending.Has(id) || e.store.BodyResolved(id) {
		e.unlock()
		return
	}
	e.pending.Mark(id)
	gen := e.gen
	handle := e.handle
	e.unlock()

	done := func(res types.BodyResult) { e.onBody(gen, id, res) }
	if handle == nil {
		done(types.BodyResult{Err: errors.New(detachedBodyMessage)})
		return
	}
	e.source.FetchBody(handle, id, done)
}

func (e *Engine) onBody(gen uint64, id string, res types.BodyResult) {
	body := decodeBody(id, res, e.opts.MaxBodyBytes)

	e.mu.Lock()
	defer e.unlock()
	if e.gen != gen {
		return
	}
	if res.Err != nil {
		slog.Debug("response body unavailable", "request_id", id, "error", res.Err)
	}
	e.store.SetResponseBody(id, body)
	e.pending.Resolve(id)
	e.checkDrainLocked()
}

func (e *Engine) OnLoadingFailed(ev types.LoadingFailed) {
	e.mu.Lock()
	defer e.unlock()
	if !e.store.Has(ev.RequestID) {
		return
	}
	e.store.SetFailure(ev.RequestID, ev.ErrorText)
	e.checkDrainLocked()
}

func (e *Engine) checkDrainLocked() {
	if e.state != StateDraining || e.exporting {
		return
	}
	if !e.pending.IsEmpty() {
		slog.Info("waiting for response bodies", "session_id", e.sessionID, "remaining", e.pending.Len())
		return
	}
	e.finalizeLocked()
}

// finalizeLocked hands the session snapshot to unlock, which delivers it
// once the lock is released.
func (e *Engine) finalizeLocked() {
	if e.drainTimer != nil {
		e.drainTimer.Stop()
		e.drainTimer = nil
	}
	slog.Info("all responses received, exporting", "session_id", e.sessionID, "records", e.store.Len())
	e.job = e.beginExportLocked(true)
}

func (e *Engine) beginExportLocked(finalize bool) *exportJob {
	e.exporting = true
	return &exportJob{
		gen:       e.gen,
		sessionID: e.sessionID,
		records:   e.store.SnapshotAndClear(),
		finalize:  finalize,
	}
}

// runExport delivers job without the engine lock and then records the outcome.
func (e *Engine) runExport(ctx context.Context, job *exportJob) (types.ExportResult, error) {
	res, err := e.exporter.Export(ctx, job.sessionID, job.records)

	e.mu.Lock()
	defer e.unlock()
	e.exporting = false
	if job.finalize && e.gen == job.gen {
		defer e.setState(StateIdle)
	}
	if err != nil {
		// A Start since the snapshot discards the retained records.
		if e.gen == job.gen {
			e.store.Restore(job.records)
		}
		e.lastExport = &ExportStatus{
			ExportResult: types.ExportResult{SessionID: job.sessionID, Records: len(job.records), At: e.opts.Now()},
			Error:        err.Error(),
		}
		slog.Error("export failed, records retained", "session_id", job.sessionID, "records", len(job.records), "error", err)
		e.queue(EventExportFailed, err.Error())
		return types.ExportResult{}, newError(CodeExportFailed, "export failed", err)
	}
	if res.Skipped {
		e.queue(EventExportSkipped, "no records to export")
		return res, nil
	}
	e.lastExport = &ExportStatus{ExportResult: res}
	e.queue(EventExportOK, res.Location)
	return res, nil
}

func (e *Engine) armDrainTimer(gen uint64) {
	if e.opts.DrainTimeout <= 0 {
		return
	}
	if e.drainTimer != nil {
		e.drainTimer.Stop()
	}
	e.drainTimer = time.AfterFunc(e.opts.DrainTimeout, func() { e.onDrainTimeout(gen) })
}

func (e *Engine) onDrainTimeout(gen uint64) {
	e.mu.Lock()
	defer e.unlock()
	if e.gen != gen || e.state != StateDraining || e.exporting {
		return
	}
	e.drainTimer = nil
	ids := e.pending.IDs()
	slog.Warn("drain timed out, exporting unresolved bodies", "session_id", e.sessionID, "pending", len(ids), "timeout", e.opts.DrainTimeout)
	for _, id := range ids {
		e.store.SetResponseBody(id, types.UnavailableBody("timed out"))
	}
	e.pending.Reset()
	e.queue(EventDrainTimedOut, strings.Join(ids, ","))
	e.checkDrainLocked()
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	slog.Debug("capture state change", "from", e.state, "to", s, "session_id", e.sessionID)
	e.state = s
	e.queue(EventState, string(s))
}

func (e *Engine) queue(kind, msg string) {
	if e.opts.Listener == nil {
		return
	}
	e.queued = append(e.queued, StatusEvent{Type: kind, Message: msg, Status: e.statusLocked()})
}

// unlock releases the engine lock, delivers queued status events and then
// runs a pending session export.
func (e *Engine) unlock() {
	events := e.queued
	e.queued = nil
	job := e.job
	e.job = nil
	e.mu.Unlock()
	for _, ev := range events {
		e.opts.Listener(ev)
	}
	if job != nil {
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		_, _ = e.runExport(ctx, job)
	}
}

func (e *Engine) statusLocked() Status {
	st := Status{
		State:     e.state,
		SessionID: e.sessionID,
		Intake:    e.intake,
		Records:   e.store.Len(),
		Pending:   e.pending.Len(),
	}
	if e.target != nil {
		t := *e.target
		st.Target = &t
	}
	if !e.startedAt.IsZero() {
		t := e.startedAt
		st.StartedAt = &t
	}
	if !e.stoppedAt.IsZero() {
		t := e.stoppedAt
		st.StoppedAt = &t
	}
	if e.lastExport != nil {
		le := *e.lastExport
		st.LastExport = &le
	}
	return st
}

func hasAuthHeader(headers map[string]string) bool {
	for k := range headers {
		if strings.EqualFold(k, "Authorization") {
			return true
		}
	}
	return false
}

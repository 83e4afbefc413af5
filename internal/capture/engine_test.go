package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/apicapture/internal/export"
	"github.com/dgnsrekt/apicapture/internal/types"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeHandle struct{ target types.TargetInfo }

func (h *fakeHandle) Target() types.TargetInfo { return h.target }

type fakeSource struct {
	mu        sync.Mutex
	target    types.TargetInfo
	targetErr error
	attachErr error
	enableErr error
	handler   EventHandler
	attaches  int
	detaches  int
	fetches   map[string]func(types.BodyResult)

	duringAttach func()
	duringEnable func() error
	duringDetach func(h EventHandler)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		target:  types.TargetInfo{TargetID: "T1", URL: "https://x.test/app"},
		fetches: make(map[string]func(types.BodyResult)),
	}
}

func (s *fakeSource) ActiveTarget(ctx context.Context) (types.TargetInfo, error) {
	return s.target, s.targetErr
}

func (s *fakeSource) Attach(ctx context.Context, target types.TargetInfo, h EventHandler) (Handle, error) {
	if s.attachErr != nil {
		return nil, s.attachErr
	}
	s.mu.Lock()
	s.attaches++
	s.handler = h
	hook := s.duringAttach
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return &fakeHandle{target: target}, nil
}

// EnableObservation runs duringEnable once, in place of enableErr.
func (s *fakeSource) EnableObservation(ctx context.Context, h Handle) error {
	s.mu.Lock()
	hook := s.duringEnable
	s.duringEnable = nil
	err := s.enableErr
	s.mu.Unlock()
	if hook != nil {
		return hook()
	}
	return err
}

func (s *fakeSource) Detach(ctx context.Context, h Handle) error {
	s.mu.Lock()
	s.detaches++
	hook, handler := s.duringDetach, s.handler
	s.mu.Unlock()
	if hook != nil {
		hook(handler)
	}
	return nil
}

func (s *fakeSource) FetchBody(h Handle, requestID string, done func(types.BodyResult)) {
	s.mu.Lock()
	s.fetches[requestID] = done
	s.mu.Unlock()
}

func (s *fakeSource) pendingFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetches)
}

// complete resolves an outstanding body fetch the way a Source would: from
// outside any engine call.
func (s *fakeSource) complete(t *testing.T, id string, res types.BodyResult) {
	t.Helper()
	s.mu.Lock()
	done, ok := s.fetches[id]
	delete(s.fetches, id)
	s.mu.Unlock()
	if !ok {
		t.Fatalf("no body fetch outstanding for %q", id)
	}
	done(res)
}

type memSink struct {
	mu         sync.Mutex
	err        error
	deliveries [][]byte

	// entered and gate, when set, hold Deliver until gate is closed.
	entered chan struct{}
	gate    chan struct{}
}

func (m *memSink) Deliver(ctx context.Context, data []byte, name string) (string, error) {
	if m.gate != nil {
		m.entered <- struct{}{}
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.deliveries = append(m.deliveries, append([]byte(nil), data...))
	return "mem://" + name, nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deliveries)
}

func (m *memSink) last(t *testing.T) []byte {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.deliveries) == 0 {
		t.Fatal("nothing was exported")
	}
	return m.deliveries[len(m.deliveries)-1]
}

type eventLog struct {
	mu     sync.Mutex
	events []StatusEvent
}

func (l *eventLog) add(ev StatusEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) summary() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		if ev.Type == EventState {
			out = append(out, ev.Message)
		} else {
			out = append(out, ev.Type)
		}
	}
	return out
}

type harness struct {
	src    *fakeSource
	sink   *memSink
	log    *eventLog
	engine *Engine
}

func newHarness(t *testing.T, matcher Matcher, opts Options) *harness {
	t.Helper()
	h := &harness{src: newFakeSource(), sink: &memSink{}, log: &eventLog{}}
	opts.Listener = h.log.add
	if opts.Now == nil {
		opts.Now = func() time.Time { return t0 }
	}
	h.engine = NewEngine(h.src, matcher, export.New(h.sink, export.FormatJSON, ""), opts)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := h.engine.Status().State; got != StateMonitoring {
		t.Fatalf("state after Start = %s; want monitoring", got)
	}
}

func waitForIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.Status().State != StateIdle {
		if time.Now().After(deadline) {
			t.Fatalf("engine still %s", e.Status().State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func compact(t *testing.T, data []byte) string {
	t.Helper()
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		t.Fatalf("compact %s: %v", data, err)
	}
	return buf.String()
}

func exported(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	return out
}

func TestEndToEndResolvedRecord(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.start(t)

	h.engine.OnRequestStart(types.RequestStart{RequestID: "1", URL: "https://x.test/api", Timestamp: t0})
	h.engine.OnResponseReceived(types.ResponseReceived{RequestID: "1", Status: 200})
	h.src.complete(t, "1", types.BodyResult{Body: []byte(`{"ok":true}`)})
	h.engine.Stop(context.Background())

	want := `[{"endpoint":"https://x.test/api","timestamp":"2024-05-01T10:00:00.000Z","payload":null,"auth_needed":false,"return_code":200,"response":{"ok":true}}]`
	if got := compact(t, h.sink.last(t)); got != want {
		t.Fatalf("export = %s; want %s", got, want)
	}
	if st := h.engine.Status(); st.State != StateIdle || st.Records != 0 || st.Pending != 0 {
		t.Fatalf("status after export = %+v", st)
	}
}

func TestEndToEndFailureDuringDrain(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.start(t)

	h.engine.OnRequestStart(types.RequestStart{RequestID: "2", URL: "https://x.test/api/slow", Timestamp: t0})
	h.src.duringDetach = func(eh EventHandler) {
		eh.OnLoadingFailed(types.LoadingFailed{RequestID: "2", ErrorText: "net::ERR_ABORTED"})
	}
	h.engine.Stop(context.Background())

	if n := h.src.pendingFetches(); n != 0 {
		t.Fatalf("body fetches = %d; want none for a failed request", n)
	}
	want := `[{"endpoint":"https://x.test/api/slow","timestamp":"2024-05-01T10:00:00.000Z","payload":null,"auth_needed":false,"return_code":"FAILED","response":"net::ERR_ABORTED"}]`
	if got := compact(t, h.sink.last(t)); got != want {
		t.Fatalf("export = %s; want %s", got, want)
	}
}

func TestUnansweredRequestExportedUnresolved(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.start(t)

	payload := `{"q":"go"}`
	h.engine.OnRequestStart(types.RequestStart{RequestID: "3", URL: "https://x.test/api/never", PostData: &payload})
	h.engine.Stop(context.Background())

	recs := exported(t, h.sink.last(t))
	if len(recs) != 1 {
		t.Fatalf("records = %d; want 1", len(recs))
	}
	if recs[0]["return_code"] != nil || recs[0]["response"] != nil {
		t.Fatalf("record = %v; want null status and response", recs[0])
	}
	if recs[0]["payload"] != payload {
		t.Fatalf("payload = %v; want %s", recs[0]["payload"], payload)
	}
	if recs[0]["timestamp"] != "2024-05-01T10:00:00.000Z" {
		t.Fatalf("timestamp = %v; want engine clock", recs[0]["timestamp"])
	}
}

func TestStopWaitsForInFlightBody(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.start(t)

	h.engine.OnRequestStart(types.RequestStart{RequestID: "1", URL: "https://x.test/api", Timestamp: t0})
	h.src.duringDetach = func(eh EventHandler) {
		eh.OnResponseReceived(types.ResponseReceived{RequestID: "1", Status: 201})
	}
	h.engine.Stop(context.Background())

	st := h.engine.Status()
	if st.State != StateDraining || st.Pending != 1 || st.Intake {
		t.Fatalf("status = %+v; want draining with one pending body", st)
	}
	if h.sink.count() != 0 {
		t.Fatal("exported before the pending body resolved")
	}

	h.src.complete(t, "1", types.BodyResult{Body: []byte("created")})

	recs := exported(t, h.sink.last(t))
	if len(recs) != 1 || recs[0]["return_code"] != float64(201) || recs[0]["response"] != "created" {
		t.Fatalf("export = %v", recs)
	}
	if h.engine.Status().State != StateIdle {
		t.Fatalf("state = %s; want idle", h.engine.Status().State)
	}
}

func TestResponseAfterDetachGetsPlaceholder(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.start(t)

	h.engine.OnRequestStart(types.RequestStart{RequestID: "1", URL: "https://x.test/api"})
	h.engine.OnRequestStart(types.RequestStart{RequestID: "2", URL: "https://x.test/api"})
	h.engine.OnResponseReceived(types.ResponseReceived{RequestID: "2", Status: 200})
	h.engine.Stop(context.Background())

	if h.engine.Status().State != StateDraining {
		t.Fatalf("state = %s; want draining while body 2 is pending", h.engine.Status().State)
	}
	// A late response after detach cannot be fetched any more.
	h.engine.OnResponseReceived(types.ResponseReceived{RequestID: "1", Status: 200})
	h.src.complete(t, "2", types.BodyResult{Body: []byte(`[]`)})

	recs := exported(t, h.sink.last(t))
	if len(recs) != 2 {
		t.Fatalf("records = %d; want 2", len(recs))
	}
	if recs[0]["response"] != "body unavailable: target detached" {
		t.Fatalf("record 1 response = %v", recs[0]["response"])
	}
}

func TestRecordCountMatchesAcceptedRequests(t *testing.T) {
	h := newHarness(t, SubstringMatcher{Needle: "/api/"}, Options{})

	h.engine.OnRequestStart(types.RequestStart{RequestID: "early", URL: "https://x.test/api/early"})
	h.start(t)
	h.engine.OnRequestStart(types.RequestStart{RequestID: "a", URL: "https://x.test/api/a"})
	h.engine.OnRequestStart(types.RequestStart{RequestID: "b", URL: "https://x.test/static/app.js"})
	h.engine.OnRequestStart(types.RequestStart{RequestID: "c", URL: "https://x.test/api/c"})
	h.engine.OnRequestStart(types.RequestStart{RequestID: "a", URL: "https://x.test/api/a-redirect"})
	h.engine.OnResponseReceived(types.ResponseReceived{RequestID: "b", Status: 200})
	h.engine.OnLoadingFailed(types.LoadingFailed{RequestID: "zzz", ErrorText: "x"})
	h.src.duringDetach = func(eh EventHandler) {
		eh.OnRequestStart(types.RequestStart{RequestID: "late", URL: "https://x.test/api/late"})
	}
	h.engine.Stop(context.Background())

	recs := exported(t, h.sink.last(t))
	if len(recs) != 2 {
		t.Fatalf("records = %d; want 2 (a, c)", len(recs))
	}
	if recs[0]["endpoint"] != "https://x.test/api/a" || recs[1]["endpoint"] != "https://x.test/api/c" {
		t.Fatalf("export order = %v", recs)
	}
	if n := h.src.pendingFetches(); n != 0 {
		t.Fatalf("body fetches = %d; want none for unmatched ids", n)
	}
}

func TestStartTwiceKeepsSession(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.start(t)
	sessionID := h.engine.Status().SessionID

	h.engine.OnRequestStart(types.RequestStart{RequestID: "1", URL: "https://x.test/api"})
	h.engine.OnResponseReceived(types.ResponseReceived{RequestID: "1", Status: 200})

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	st := h.engine.Status()
	if st.SessionID != sessionID || st.Records != 1 || st.Pending != 1 {
		t.Fatalf("status after second Start = %+v; want untouched session", st)
	}
	if h.src.attaches != 1 {
		t.Fatalf("attaches = %d; want 1", h.src.attaches)
	}
}

func TestStartFailures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*fakeSource)
		code  string
	}{
		{"no target", func(s *fakeSource) { s.targetErr = ErrNoTarget }, CodeNoActiveTarget},
		{"lookup failed", func(s *fakeSource) { s.targetErr = errors.New("connection refused") }, CodeCDPUnavailable},
		{"protected", func(s *fakeSource) { s.target.URL = "chrome://settings" }, CodeProtectedTarget},
		{"web store", func(s *fakeSource) { s.target.URL = "https://chromewebstore.google.com/detail/x" }, CodeProtectedTarget},
		{"attach", func(s *fakeSource) { s.attachErr = errors.New("target closed") }, CodeAttachFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil, Options{})
			tc.setup(h.src)

			err := h.engine.Start(context.Background())
			if got := ErrorCode(err); got != tc.code {
				t.Fatalf("Start() code = %q (%v); want %q", got, err, tc.code)
			}
			if st := h.engine.Status(); st.State != StateIdle || st.Intake {
				t.Fatalf("status = %+v; want idle", st)
			}
			if got := h.log.summary(); len(got) != 3 || got[1] != EventStartFailed || got[2] != string(StateIdle) {
				t.Fatalf("events = %v; want attaching, start_failed, idle", got)
			}
		})
	}
}

func TestEnableFailureDetaches(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.src.enableErr = errors.New("Network.enable: boom")

	err := h.engine.Start(context.Background())
	if ErrorCode(err) != CodeEnableFailed {
		t.Fatalf("Start() error = %v; want ENABLE_FAILED", err)
	}
	if h.src.detaches != 1 {
		t.Fatalf("detaches = %d; want 1", h.src.detaches)
	}
	if st := h.engine.Status(); st.State != StateIdle {
		t.Fatalf("state = %s; want idle", st.State)
	}
	if h.sink.count() != 0 {
		t.Fatal("empty session was delivered")
	}
}

func TestStopDuringAttach(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.src.duringAttach = func() { h.engine.Stop(context.Background()) }

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st := h.engine.Status(); st.State != StateIdle || st.Intake {
		t.Fatalf("status = %+v; want idle", st)
	}
	if h.src.detaches != 1 {
		t.Fatalf("detaches = %d; want the late handle detached", h.src.detaches)
	}
}

func TestStatusEventSequence(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.start(t)
	h.engine.OnRequestStart(types.RequestStart{RequestID: "1", URL: "https://x.test/api"})
	h.engine.Stop(context.Background())

	want := []string{"attaching", "monitoring", "draining", EventExportOK, "idle"}
	got := h.log.summary()
	if len(got) != len(want) {
		t.Fatalf("events = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v; want %v", got, want)
		}
	}
}

func TestEmptySessionSkipsExport(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.start(t)
	h.engine.Stop(context.Background())

	if h.sink.count() != 0 {
		t.Fatal("empty session was delivered")
	}
	got := h.log.summary()
	if got[len(got)-2] != EventExportSkipped {
		t.Fatalf("events = %v; want export_skipped before idle", got)
	}
}

func TestExportFailureRetainsRecords(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.sink.err = errors.New("disk full")
	h.start(t)
	h.engine.OnRequestStart(types.RequestStart{RequestID: "1", URL: "https://x.test/api"})
	h.engine.Stop(context.Background())

	st := h.engine.Status()
	if st.State != StateIdle || st.Records != 1 {
		t.Fatalf("status = %+v; want idle with the record retained", st)
	}
	if st.LastExport == nil || st.LastExport.Error == "" {
		t.Fatalf("LastExport = %+v; want error", st.LastExport)
	}

	h.sink.err = nil
	res, err := h.engine.Export(context.Background())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Records != 1 || res.Location != "mem://api_requests.json" {
		t.Fatalf("Export() = %+v", res)
	}
	if st := h.engine.Status(); st.Records != 0 || st.LastExport.Error != "" {
		t.Fatalf("status after retry = %+v", st)
	}
}

func TestExportValidation(t *testing.T) {
	h := newHarness(t, nil, Options{})
	if _, err := h.engine.Export(context.Background()); ErrorCode(err) != CodeValidation {
		t.Fatalf("Export() with nothing retained error = %v; want VALIDATION", err)
	}
	h.start(t)
	if _, err := h.engine.Export(context.Background()); ErrorCode(err) != CodeValidation {
		t.Fatalf("Export() while monitoring error = %v; want VALIDATION", err)
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.engine.Stop(context.Background())
	if h.src.detaches != 0 || len(h.log.summary()) != 0 {
		t.Fatal("Stop() on an idle engine did something")
	}
}

func TestDrainTimeoutExportsPlaceholders(t *testing.T) {
	h := newHarness(t, nil, Options{DrainTimeout: 20 * time.Millisecond})
	h.start(t)
	h.engine.OnRequestStart(types.RequestStart{RequestID: "1", URL: "https://x.test/api"})
	h.engine.OnResponseReceived(types.ResponseReceived{RequestID: "1", Status: 200})
	h.engine.Stop(context.Background())

	waitForIdle(t, h.engine)
	recs := exported(t, h.sink.last(t))
	if recs[0]["response"] != "body unavailable: timed out" || recs[0]["return_code"] != float64(200) {
		t.Fatalf("record = %v", recs[0])
	}

	// The body arriving after the timeout changes nothing.
	h.src.complete(t, "1", types.BodyResult{Body: []byte(`{}`)})
	if h.sink.count() != 1 || h.engine.Status().State != StateIdle {
		t.Fatal("late body after timeout caused another export")
	}
}

func TestLateBodyFromPreviousSessionIgnored(t *testing.T) {
	h := newHarness(t, nil, Options{DrainTimeout: 10 * time.Millisecond})
	h.start(t)
	h.engine.OnRequestStart(types.RequestStart{RequestID: "1", URL: "https://x.test/api/old"})
	h.engine.OnResponseReceived(types.ResponseReceived{RequestID: "1", Status: 200})

	h.src.mu.Lock()
	oldDone := h.src.fetches["1"]
	delete(h.src.fetches, "1")
	h.src.mu.Unlock()

	h.engine.Stop(context.Background())
	waitForIdle(t, h.engine)

	h.start(t)
	h.engine.OnRequestStart(types.RequestStart{RequestID: "1", URL: "https://x.test/api/new"})
	oldDone(types.BodyResult{Body: []byte(`"stale"`)})

	rec, ok := h.engine.Record("1")
	if !ok {
		t.Fatal("record 1 missing from the new session")
	}
	if rec.Response != nil || rec.Endpoint != "https://x.test/api/new" {
		t.Fatalf("record = %+v; stale body leaked into the new session", rec)
	}
}

func TestLoadingFailedAfterBodyKeepsResponse(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.start(t)
	h.engine.OnRequestStart(types.RequestStart{RequestID: "1", URL: "https://x.test/api"})
	h.engine.OnResponseReceived(types.ResponseReceived{RequestID: "1", Status: 200})
	h.src.complete(t, "1", types.BodyResult{Body: []byte(`{"a":1}`)})
	h.engine.OnLoadingFailed(types.LoadingFailed{RequestID: "1", ErrorText: "net::ERR_ABORTED"})

	rec, _ := h.engine.Record("1")
	if status, ok := rec.ReturnCode.Status(); !ok || status != 200 {
		t.Fatalf("ReturnCode = %v; want 200", rec.ReturnCode)
	}
}

func TestDuplicateResponseFetchesOnce(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.start(t)
	h.engine.OnRequestStart(types.RequestStart{RequestID: "1", URL: "https://x.test/api"})
	h.engine.OnResponseReceived(types.ResponseReceived{RequestID: "1", Status: 301})
	h.engine.OnResponseReceived(types.ResponseReceived{RequestID: "1", Status: 200})

	if n := h.src.pendingFetches(); n != 1 {
		t.Fatalf("body fetches = %d; want 1", n)
	}
	rec, _ := h.engine.Record("1")
	if status, _ := rec.ReturnCode.Status(); status != 301 {
		t.Fatalf("status = %d; want first status kept", status)
	}
}

func TestAuthHeaderDetected(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.start(t)
	h.engine.OnRequestStart(types.RequestStart{
		RequestID: "1",
		URL:       "https://x.test/api",
		Headers:   map[string]string{"authorization": "Bearer t"},
	})
	h.engine.OnRequestStart(types.RequestStart{
		RequestID: "2",
		URL:       "https://x.test/api",
		Headers:   map[string]string{"Accept": "*/*"},
	})

	if rec, _ := h.engine.Record("1"); !rec.AuthNeeded {
		t.Fatal("AuthNeeded = false; want true for Authorization header")
	}
	if rec, _ := h.engine.Record("2"); rec.AuthNeeded {
		t.Fatal("AuthNeeded = true; want false")
	}
}

func TestStaleEnableFailureLeavesNewSessionRunning(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx := context.Background()
	h.src.duringEnable = func() error {
		h.engine.Stop(ctx)
		if err := h.engine.Start(ctx); err != nil {
			t.Errorf("second Start() error = %v", err)
		}
		return errors.New("Network.enable: target closed")
	}

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v; want nil for a superseded session", err)
	}
	st := h.engine.Status()
	if st.State != StateMonitoring || !st.Intake {
		t.Fatalf("status = %+v; want the newer session monitoring", st)
	}
	if h.src.attaches != 2 || h.src.detaches != 1 {
		t.Fatalf("attaches = %d, detaches = %d; want 2 and 1", h.src.attaches, h.src.detaches)
	}
	for _, ev := range h.log.summary() {
		if ev == EventStartFailed {
			t.Fatalf("events = %v; stale failure was reported", h.log.summary())
		}
	}
}

func TestDeliveryRunsWithoutEngineLock(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.sink.entered = make(chan struct{}, 1)
	h.sink.gate = make(chan struct{})
	h.start(t)
	h.engine.OnRequestStart(types.RequestStart{RequestID: "1", URL: "https://x.test/api"})

	stopped := make(chan struct{})
	go func() {
		h.engine.Stop(context.Background())
		close(stopped)
	}()

	select {
	case <-h.sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("export never reached the sink")
	}

	statusCh := make(chan Status, 1)
	go func() { statusCh <- h.engine.Status() }()
	select {
	case st := <-statusCh:
		if st.State != StateDraining || st.Records != 0 {
			t.Fatalf("status during delivery = %+v; want draining with the snapshot taken", st)
		}
	case <-time.After(time.Second):
		t.Fatal("Status() blocked while the sink was writing")
	}

	h.engine.OnResponseReceived(types.ResponseReceived{RequestID: "1", Status: 200})
	if _, err := h.engine.Export(context.Background()); ErrorCode(err) != CodeValidation {
		t.Fatalf("Export() during delivery error = %v; want VALIDATION", err)
	}

	close(h.sink.gate)
	<-stopped
	if st := h.engine.Status(); st.State != StateIdle || h.sink.count() != 1 {
		t.Fatalf("status = %+v, deliveries = %d", st, h.sink.count())
	}
}

func TestStartOnBlankTab(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.src.target.URL = "about:blank"
	h.start(t)
	if st := h.engine.Status(); st.Target == nil || st.Target.URL != "about:blank" {
		t.Fatalf("Target = %+v; want about:blank", st.Target)
	}
}

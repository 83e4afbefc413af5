package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/network"

	"github.com/dgnsrekt/apicapture/internal/capture"
	"github.com/dgnsrekt/apicapture/internal/types"
)

const defaultFetchTimeout = 10 * time.Second

var errDetached = errors.New("target detached")

// Source observes one Chromium tab at a time over the DevTools protocol and
// implements capture.Source.
type Source struct {
	raw          *rawCDP
	tabFilter    string
	fetchTimeout time.Duration
}

// NewSource creates a Source for the browser whose DevTools HTTP endpoint is
// cdpURL (e.g. http://127.0.0.1:9220). tabFilter, when set, restricts which
// page counts as the active tab.
func NewSource(cdpURL, tabFilter string, fetchTimeout time.Duration) *Source {
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	return &Source{
		raw:          newRawCDP(cdpURL),
		tabFilter:    tabFilter,
		fetchTimeout: fetchTimeout,
	}
}

// Close drops the browser connection. Attached targets stay open.
func (s *Source) Close() {
	s.raw.close()
}

// ActiveTarget returns the most recently activated page target.
func (s *Source) ActiveTarget(ctx context.Context) (types.TargetInfo, error) {
	targets, err := s.raw.listTargets(ctx)
	if err != nil {
		return types.TargetInfo{}, fmt.Errorf("list targets: %w", err)
	}
	info, ok := pickActive(targets, s.tabFilter)
	if !ok {
		return types.TargetInfo{}, capture.ErrNoTarget
	}
	return info, nil
}

// session is the capture.Handle for one attached tab.
type session struct {
	info      types.TargetInfo
	sessionID string
	handler   capture.EventHandler
	unsub     []func()

	mu       sync.Mutex
	inflight int
	settled  chan struct{}
	detached bool
}

func (s *session) Target() types.TargetInfo { return s.info }

func (s *session) isDetached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// Attach opens a flat CDP session on the target and starts routing its
// network events to h. Events are not produced until EnableObservation.
func (s *Source) Attach(ctx context.Context, target types.TargetInfo, h capture.EventHandler) (capture.Handle, error) {
	if err := s.raw.connect(ctx); err != nil {
		return nil, err
	}
	sessionID, err := s.raw.attachToTarget(ctx, target.TargetID)
	if err != nil {
		return nil, err
	}

	sess := &session{info: target, sessionID: sessionID, handler: h}
	sess.unsub = []func(){
		s.raw.registerEventHandler(string(cdproto.EventNetworkRequestWillBeSent), sess.filter(sess.onRequestWillBeSent)),
		s.raw.registerEventHandler(string(cdproto.EventNetworkResponseReceived), sess.filter(sess.onResponseReceived)),
		s.raw.registerEventHandler(string(cdproto.EventNetworkLoadingFailed), sess.filter(sess.onLoadingFailed)),
	}
	slog.Info("attached to tab", "target_id", target.TargetID, "url", target.URL, "session_id", sessionID)
	return sess, nil
}

// EnableObservation turns on the Network domain for the session.
func (s *Source) EnableObservation(ctx context.Context, h capture.Handle) error {
	sess, ok := h.(*session)
	if !ok {
		return fmt.Errorf("cdp: foreign handle %T", h)
	}
	_, err := s.raw.sendFlat(ctx, sess.sessionID, network.CommandEnable, struct{}{})
	return err
}

// Detach stops event delivery and releases the session without closing the
// tab. Body fetches already in flight are given up to the fetch timeout to
// settle first; network events keep flowing meanwhile.
func (s *Source) Detach(ctx context.Context, h capture.Handle) error {
	sess, ok := h.(*session)
	if !ok {
		return fmt.Errorf("cdp: foreign handle %T", h)
	}

	sess.mu.Lock()
	if sess.detached {
		sess.mu.Unlock()
		return nil
	}
	var settled chan struct{}
	if sess.inflight > 0 {
		settled = make(chan struct{})
		sess.settled = settled
	}
	sess.mu.Unlock()

	if settled != nil {
		timer := time.NewTimer(s.fetchTimeout)
		select {
		case <-settled:
		case <-ctx.Done():
		case <-timer.C:
			slog.Warn("detaching with body fetches still in flight", "session_id", sess.sessionID)
		}
		timer.Stop()
	}

	sess.mu.Lock()
	sess.detached = true
	sess.mu.Unlock()
	for _, fn := range sess.unsub {
		fn()
	}

	detachCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.raw.detachFromTarget(detachCtx, sess.sessionID); err != nil {
		return fmt.Errorf("detach %s: %w", sess.info.TargetID, err)
	}
	slog.Info("detached from tab", "target_id", sess.info.TargetID, "session_id", sess.sessionID)
	return nil
}

// FetchBody requests the response body on its own goroutine; the read loop
// that delivers the reply must never block on it.
func (s *Source) FetchBody(h capture.Handle, requestID string, done func(types.BodyResult)) {
	sess, ok := h.(*session)
	if !ok {
		go done(types.BodyResult{Err: fmt.Errorf("cdp: foreign handle %T", h)})
		return
	}

	sess.mu.Lock()
	if sess.detached {
		sess.mu.Unlock()
		go done(types.BodyResult{Err: errDetached})
		return
	}
	sess.inflight++
	sess.mu.Unlock()

	go func() {
		res := s.getResponseBody(sess.sessionID, requestID)

		sess.mu.Lock()
		sess.inflight--
		if sess.inflight == 0 && sess.settled != nil {
			close(sess.settled)
			sess.settled = nil
		}
		sess.mu.Unlock()

		done(res)
	}()
}

func (s *Source) getResponseBody(sessionID, requestID string) types.BodyResult {
	ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
	defer cancel()

	params := struct {
		RequestID network.RequestID `json:"requestId"`
	}{RequestID: network.RequestID(requestID)}

	raw, err := s.raw.sendFlat(ctx, sessionID, network.CommandGetResponseBody, params)
	if err != nil {
		return types.BodyResult{Err: err}
	}
	var resp struct {
		Body          string `json:"body"`
		Base64Encoded bool   `json:"base64Encoded"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return types.BodyResult{Err: fmt.Errorf("decode body reply: %w", err)}
	}
	return types.BodyResult{Body: []byte(resp.Body), Base64Encoded: resp.Base64Encoded}
}

// filter drops events from other sessions and events that arrive after detach.
func (s *session) filter(fn func(json.RawMessage)) func(string, json.RawMessage) {
	return func(sessionID string, params json.RawMessage) {
		if sessionID != s.sessionID || s.isDetached() {
			return
		}
		fn(params)
	}
}

type requestWillBeSent struct {
	RequestID network.RequestID `json:"requestId"`
	WallTime  float64           `json:"wallTime"`
	Request   struct {
		URL             string          `json:"url"`
		Headers         network.Headers `json:"headers"`
		PostData        *string         `json:"postData"`
		HasPostData     bool            `json:"hasPostData"`
		PostDataEntries []struct {
			Bytes string `json:"bytes"`
		} `json:"postDataEntries"`
	} `json:"request"`
}

func (s *session) onRequestWillBeSent(params json.RawMessage) {
	var ev requestWillBeSent
	if err := json.Unmarshal(params, &ev); err != nil {
		slog.Debug("bad requestWillBeSent", "error", err)
		return
	}
	s.handler.OnRequestStart(types.RequestStart{
		RequestID: string(ev.RequestID),
		URL:       ev.Request.URL,
		Timestamp: wallTime(ev.WallTime),
		PostData:  postData(&ev),
		Headers:   headerMapToStringMap(ev.Request.Headers),
	})
}

func (s *session) onResponseReceived(params json.RawMessage) {
	var ev struct {
		RequestID network.RequestID `json:"requestId"`
		Response  struct {
			Status float64 `json:"status"`
		} `json:"response"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		slog.Debug("bad responseReceived", "error", err)
		return
	}
	s.handler.OnResponseReceived(types.ResponseReceived{
		RequestID: string(ev.RequestID),
		Status:    int(ev.Response.Status),
	})
}

func (s *session) onLoadingFailed(params json.RawMessage) {
	var ev struct {
		RequestID network.RequestID `json:"requestId"`
		ErrorText string            `json:"errorText"`
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		slog.Debug("bad loadingFailed", "error", err)
		return
	}
	s.handler.OnLoadingFailed(types.LoadingFailed{
		RequestID: string(ev.RequestID),
		ErrorText: ev.ErrorText,
	})
}

// wallTime converts CDP seconds-since-epoch; zero leaves the stamp to the engine.
func wallTime(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

// postData prefers the inline body and falls back to the base64 entries
// newer Chromium versions send instead.
func postData(ev *requestWillBeSent) *string {
	if ev.Request.PostData != nil {
		return ev.Request.PostData
	}
	if !ev.Request.HasPostData || len(ev.Request.PostDataEntries) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, entry := range ev.Request.PostDataEntries {
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			sb.WriteString(entry.Bytes)
			continue
		}
		sb.Write(decoded)
	}
	out := sb.String()
	return &out
}

func headerMapToStringMap(headers network.Headers) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = fmt.Sprint(v)
	}
	return out
}

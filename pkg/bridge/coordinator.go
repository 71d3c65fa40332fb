// Package bridge coordinates bridged call sessions: it consumes carrier
// frames from the transport, opens one endpoint session per call, runs the
// conversation turn machine between them, and converts audio in both
// directions.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voxlate/voxlate/pkg/errorsx"
	"github.com/voxlate/voxlate/pkg/frames"
	"github.com/voxlate/voxlate/pkg/realtime"
	"github.com/voxlate/voxlate/pkg/transports"
	"github.com/voxlate/voxlate/pkg/turn"
)

// SessionOpener opens one endpoint session. Replaced in tests.
type SessionOpener func(ctx context.Context, cfg realtime.Config) (EndpointSession, error)

type Config struct {
	Realtime        realtime.Config
	MaxSessions     int
	TeardownTimeout time.Duration
	SourceLang      string
	TargetLang      string
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 32
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = 5 * time.Second
	}
	if c.SourceLang == "" {
		c.SourceLang = "en"
	}
	if c.TargetLang == "" {
		c.TargetLang = "es"
	}
	return c
}

type langPair struct {
	source string
	target string
}

// Coordinator owns the session table and the dispatch loop. The table has a
// single writer (the dispatch goroutine plus teardown paths under the lock);
// readers take snapshots.
type Coordinator struct {
	cfg       Config
	transport transports.Transport
	opener    SessionOpener
	logger    *slog.Logger
	seq       *frames.SeqGen

	mu           sync.Mutex
	sessions     map[string]*CallSession
	byCall       map[string]*CallSession
	pendingLangs map[string]langPair
	started      bool
	stopped      bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCoordinator(cfg Config, transport transports.Transport, logger *slog.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		seq:       frames.NewSeqGen(),
		opener: func(ctx context.Context, rc realtime.Config) (EndpointSession, error) {
			return realtime.Open(ctx, rc)
		},
		sessions:     make(map[string]*CallSession),
		byCall:       make(map[string]*CallSession),
		pendingLangs: make(map[string]langPair),
	}
}

// Start brings the transport up and begins dispatching. A transport that
// fails to start leaves the coordinator fully rolled back.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errorsx.Wrap(errors.New("coordinator already started"), errorsx.ReasonBridgeStartup)
	}
	c.started = true
	c.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.transport.Start(runCtx); err != nil {
		cancel()
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return errorsx.Wrap(err, errorsx.ReasonBridgeStartup)
	}

	if rr, ok := c.transport.(transports.ReadyReporter); ok {
		args := []any{"transport", c.transport.Name()}
		for k, v := range rr.ReadyFields() {
			args = append(args, k, v)
		}
		c.logger.Info("bridge_transport_ready", args...)
	}

	c.wg.Add(1)
	go c.dispatch(runCtx)
	return nil
}

// Stop tears everything down in reverse order of startup: stop accepting
// new work, end live call sessions, then stop the transport. Idempotent;
// teardown is bounded by the configured timeout.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if c.stopped || !c.started {
		c.stopped = true
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	live := make([]*CallSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		live = append(live, s)
	}
	c.sessions = make(map[string]*CallSession)
	c.byCall = make(map[string]*CallSession)
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	for _, s := range live {
		s.teardown("bridge shutdown")
	}
	err := c.transport.Stop()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.cfg.TeardownTimeout):
		c.logger.Warn("bridge_teardown_timeout")
	}
	return err
}

// Drain satisfies the runner's shutdown hook.
func (c *Coordinator) Drain() error { return c.Stop() }

func (c *Coordinator) dispatch(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-c.transport.Recv():
			if !ok {
				return
			}
			c.handleFrame(ctx, f)
		}
	}
}

func (c *Coordinator) handleFrame(ctx context.Context, f frames.Frame) {
	switch f.Kind() {
	case frames.KindSystem:
		sys := f.(frames.SystemFrame)
		meta := sys.Meta()
		switch sys.Name() {
		case "call_start":
			c.startSession(ctx, meta)
		case "call_reconnect":
			if old := meta[frames.MetaOldStreamID]; old != "" {
				c.endSession(old, "carrier reconnect")
			}
		case "call_end":
			c.endSession(meta[frames.MetaStreamID], meta[frames.MetaCallEndReason])
		}
	case frames.KindAudio:
		af := f.(frames.AudioFrame)
		defer frames.ReleaseAudioFrame(af)
		sess := c.sessionFor(af.Meta()[frames.MetaStreamID])
		if sess == nil {
			return
		}
		if err := sess.forwardCarrierAudio(af.RawPayload()); err != nil {
			c.logger.Warn("bridge_inbound_audio_failed",
				"stream_id", sess.StreamID,
				"reason_code", string(errorsx.Reason(err)),
				"error", err.Error(),
			)
		}
	}
}

// startSession registers the call and opens its endpoint session off the
// dispatch goroutine so one slow handshake never stalls other calls.
func (c *Coordinator) startSession(ctx context.Context, meta map[string]string) {
	streamID := meta[frames.MetaStreamID]
	callSID := meta[frames.MetaCallSID]

	sess := &CallSession{
		StreamID:   streamID,
		CallSID:    callSID,
		TraceID:    meta[frames.MetaTraceID],
		FromNumber: meta[frames.MetaFromNumber],
		SourceLang: c.cfg.SourceLang,
		TargetLang: c.cfg.TargetLang,
		CreatedAt:  time.Now(),
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if len(c.sessions) >= c.cfg.MaxSessions {
		c.mu.Unlock()
		c.logger.Warn("bridge_session_limit_reached", "stream_id", streamID, "limit", c.cfg.MaxSessions)
		c.hangup(callSID)
		return
	}
	if pending, ok := c.pendingLangs[callSID]; ok {
		sess.SourceLang = pending.source
		sess.TargetLang = pending.target
		delete(c.pendingLangs, callSID)
	}
	c.sessions[streamID] = sess
	if callSID != "" {
		c.byCall[callSID] = sess
	}
	c.mu.Unlock()

	c.logger.Info("bridge_call_connecting",
		"stream_id", streamID,
		"call_sid", callSID,
		"trace_id", sess.TraceID,
		"source_lang", sess.SourceLang,
		"target_lang", sess.TargetLang,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.openEndpoint(ctx, sess)
	}()
}

func (c *Coordinator) openEndpoint(ctx context.Context, sess *CallSession) {
	rc := c.cfg.Realtime
	rc.SourceLang = sess.SourceLang
	rc.TargetLang = sess.TargetLang

	endpoint, err := c.opener(ctx, rc)
	if err != nil {
		c.logger.Error("bridge_endpoint_open_failed",
			"stream_id", sess.StreamID,
			"reason_code", string(errorsx.Reason(err)),
			"error", err.Error(),
		)
		c.endSession(sess.StreamID, "endpoint unavailable")
		c.hangup(sess.CallSID)
		return
	}

	meta := map[string]string{
		frames.MetaStreamID: sess.StreamID,
		frames.MetaCallSID:  sess.CallSID,
		frames.MetaTraceID:  sess.TraceID,
		frames.MetaSource:   "bridge",
	}
	sink := &carrierSink{streamID: sess.StreamID, meta: meta, seq: c.seq, send: c.transport.Send}
	machine := turn.NewMachine(sink, endpoint, c.logger.With("stream_id", sess.StreamID))
	machine.AddListener(&flushListener{streamID: sess.StreamID, meta: meta, seq: c.seq, send: c.transport.Send})

	sess.bind(endpoint, machine)

	// The carrier may have hung up while the handshake was in flight; an
	// earlier teardown already consumed the session's close path, so the
	// endpoint is released directly.
	if c.sessionFor(sess.StreamID) != sess {
		_ = endpoint.Close()
		sess.setLifecycle(LifecycleEnded)
		return
	}
	sess.setLifecycle(LifecycleActive)
	c.logger.Info("bridge_call_active", "stream_id", sess.StreamID, "call_sid", sess.CallSID)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.pumpEvents(sess)
	}()
}

// pumpEvents is the single goroutine that owns this call's turn state.
func (c *Coordinator) pumpEvents(sess *CallSession) {
	endpoint, machine := sess.pipes()
	for ev := range endpoint.Events() {
		machine.HandleEvent(ev)
		if machine.State() == turn.StateClosed {
			break
		}
	}
	if sess.Lifecycle() == LifecycleActive {
		c.logger.Warn("bridge_endpoint_stream_ended", "stream_id", sess.StreamID)
		c.endSession(sess.StreamID, "endpoint stream ended")
		c.hangup(sess.CallSID)
	}
}

func (c *Coordinator) endSession(streamID, reason string) {
	if streamID == "" {
		return
	}
	c.mu.Lock()
	sess := c.sessions[streamID]
	delete(c.sessions, streamID)
	if sess != nil && sess.CallSID != "" && c.byCall[sess.CallSID] == sess {
		delete(c.byCall, sess.CallSID)
	}
	c.mu.Unlock()
	if sess == nil {
		return
	}
	if reason == "" {
		reason = "call end"
	}
	sess.teardown(reason)
	c.logger.Info("bridge_call_ended", "stream_id", streamID, "call_sid", sess.CallSID, "reason", reason)
}

// hangup ends the carrier leg when the bridge cannot continue serving it.
func (c *Coordinator) hangup(callSID string) {
	if callSID == "" {
		return
	}
	ender, ok := c.transport.(transports.CallEnder)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ender.EndCall(ctx, callSID); err != nil {
		c.logger.Warn("bridge_hangup_failed", "call_sid", callSID, "error", err.Error())
	}
}

func (c *Coordinator) sessionFor(streamID string) *CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[streamID]
}

// CallStatus is a point-in-time snapshot of one bridged call.
type CallStatus struct {
	CallSID    string    `json:"call_sid"`
	StreamID   string    `json:"stream_id,omitempty"`
	Lifecycle  string    `json:"lifecycle"`
	TurnState  string    `json:"turn_state,omitempty"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	FromNumber string    `json:"from_number,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func snapshot(sess *CallSession) CallStatus {
	st := CallStatus{
		CallSID:    sess.CallSID,
		StreamID:   sess.StreamID,
		Lifecycle:  sess.Lifecycle().String(),
		SourceLang: sess.SourceLang,
		TargetLang: sess.TargetLang,
		FromNumber: sess.FromNumber,
		CreatedAt:  sess.CreatedAt,
	}
	if _, machine := sess.pipes(); machine != nil {
		st.TurnState = machine.State().String()
	}
	return st
}

// StartCall places an outbound call with per-call language overrides. The
// languages take effect when the carrier stream attaches.
func (c *Coordinator) StartCall(ctx context.Context, to, source, target string) (string, error) {
	dialer, ok := c.transport.(transports.OutboundDialer)
	if !ok {
		return "", errors.New("transport cannot place outbound calls")
	}
	if source == "" {
		source = c.cfg.SourceLang
	}
	if target == "" {
		target = c.cfg.TargetLang
	}
	callSID, err := dialer.Dial(ctx, to, "", "")
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.pendingLangs[callSID] = langPair{source: source, target: target}
	c.mu.Unlock()
	c.logger.Info("bridge_call_dialed", "call_sid", callSID, "to", to, "source_lang", source, "target_lang", target)
	return callSID, nil
}

// EndCall tears down the bridged session for a call and hangs up the
// carrier leg.
func (c *Coordinator) EndCall(ctx context.Context, callSID string) error {
	c.mu.Lock()
	sess := c.byCall[callSID]
	delete(c.pendingLangs, callSID)
	c.mu.Unlock()
	if sess != nil {
		c.endSession(sess.StreamID, "operator request")
	}
	if ender, ok := c.transport.(transports.CallEnder); ok {
		return ender.EndCall(ctx, callSID)
	}
	if sess == nil {
		return errors.New("unknown call")
	}
	return nil
}

// CallStatusFor reports one call's snapshot by call SID.
func (c *Coordinator) CallStatusFor(callSID string) (CallStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.byCall[callSID]; ok {
		return snapshot(sess), true
	}
	if langs, ok := c.pendingLangs[callSID]; ok {
		return CallStatus{
			CallSID:    callSID,
			Lifecycle:  "dialing",
			SourceLang: langs.source,
			TargetLang: langs.target,
		}, true
	}
	return CallStatus{}, false
}

// ActiveCalls lists snapshots of every live bridged call.
func (c *Coordinator) ActiveCalls() []CallStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CallStatus, 0, len(c.sessions))
	for _, sess := range c.sessions {
		out = append(out, snapshot(sess))
	}
	return out
}

// SetSessionOpener replaces how endpoint sessions are opened. Used by tests
// and alternate providers.
func (c *Coordinator) SetSessionOpener(open SessionOpener) {
	c.opener = open
}

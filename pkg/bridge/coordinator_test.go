package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxlate/voxlate/pkg/errorsx"
	"github.com/voxlate/voxlate/pkg/frames"
	"github.com/voxlate/voxlate/pkg/realtime"
)

type fakeTransport struct {
	mu       sync.Mutex
	recvCh   chan frames.Frame
	sent     []frames.Frame
	startErr error
	started  bool
	stopped  bool
	ended    []string
	dialSID  string
	dialErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{recvCh: make(chan frames.Frame, 64)}
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeTransport) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.recvCh)
	}
	return nil
}

func (f *fakeTransport) Recv() <-chan frames.Frame { return f.recvCh }

func (f *fakeTransport) Send(fr frames.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fr)
	return nil
}

func (f *fakeTransport) EndCall(ctx context.Context, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, callSID)
	return nil
}

func (f *fakeTransport) Dial(ctx context.Context, to, from, url string) (string, error) {
	if f.dialErr != nil {
		return "", f.dialErr
	}
	return f.dialSID, nil
}

func (f *fakeTransport) sentFrames() []frames.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frames.Frame(nil), f.sent...)
}

func (f *fakeTransport) endedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ended...)
}

type fakeEndpoint struct {
	mu        sync.Mutex
	events    chan realtime.Event
	audio     [][]byte
	cancels   int
	closed    bool
	closeOnce sync.Once
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{events: make(chan realtime.Event, 64)}
}

func (f *fakeEndpoint) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), pcm...))
	return nil
}

func (f *fakeEndpoint) CancelResponse() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeEndpoint) Events() <-chan realtime.Event { return f.events }

func (f *fakeEndpoint) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.events)
	})
	return nil
}

func (f *fakeEndpoint) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeEndpoint) audioFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.audio...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func callStartFrame(streamID, callSID string) frames.SystemFrame {
	return frames.NewSystemFrame(streamID, 1, "call_start", map[string]string{
		frames.MetaCallSID: callSID,
		frames.MetaTraceID: "trace-1",
	})
}

func callEndFrame(streamID string) frames.SystemFrame {
	return frames.NewSystemFrame(streamID, 99, "call_end", map[string]string{
		frames.MetaCallEndReason: "completed",
	})
}

func newTestCoordinator(tr *fakeTransport, ep *fakeEndpoint) *Coordinator {
	c := NewCoordinator(Config{MaxSessions: 4, TeardownTimeout: time.Second}, tr, nil)
	c.SetSessionOpener(func(ctx context.Context, cfg realtime.Config) (EndpointSession, error) {
		return ep, nil
	})
	return c
}

func TestStartFailureRollsBack(t *testing.T) {
	tr := newFakeTransport()
	tr.startErr = errors.New("port busy")
	c := newTestCoordinator(tr, newFakeEndpoint())

	err := c.Start(context.Background())
	if err == nil {
		t.Fatalf("expected startup error")
	}
	if errorsx.Reason(err) != errorsx.ReasonBridgeStartup {
		t.Fatalf("expected bridge_startup reason, got %s", errorsx.Reason(err))
	}

	// A rolled-back coordinator can start again once the fault clears.
	tr.startErr = nil
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("expected clean restart, got %v", err)
	}
	_ = c.Stop()
}

func TestFullCallFlow(t *testing.T) {
	tr := newFakeTransport()
	ep := newFakeEndpoint()
	c := newTestCoordinator(tr, ep)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	tr.recvCh <- callStartFrame("stream-1", "CA1")
	waitFor(t, func() bool {
		calls := c.ActiveCalls()
		return len(calls) == 1 && calls[0].Lifecycle == "active"
	}, "call to become active")

	ep.events <- realtime.Event{Type: realtime.EventSessionCreated}
	waitFor(t, func() bool {
		st, ok := c.CallStatusFor("CA1")
		return ok && st.TurnState == "LISTENING"
	}, "turn machine to reach LISTENING")

	// Inbound carrier audio is upconverted and forwarded to the endpoint.
	inbound := make([]byte, 160)
	tr.recvCh <- frames.NewAudioFrame("stream-1", 2, inbound, frames.FormatMuLaw8k, 8000, nil)
	waitFor(t, func() bool { return len(ep.audioFrames()) == 1 }, "inbound audio forwarded")
	if got := len(ep.audioFrames()[0]); got != 160*3*2 {
		t.Fatalf("expected 960 bytes of wideband pcm, got %d", got)
	}

	// One full conversation turn flows assistant audio back to the carrier.
	ep.events <- realtime.Event{Type: realtime.EventSpeechStarted}
	ep.events <- realtime.Event{Type: realtime.EventSpeechStopped}
	ep.events <- realtime.Event{Type: realtime.EventResponseCreated, ResponseID: "resp_1"}
	ep.events <- realtime.Event{Type: realtime.EventAudioDelta, Audio: make([]byte, 480)}
	ep.events <- realtime.Event{Type: realtime.EventResponseDone, ResponseID: "resp_1"}

	waitFor(t, func() bool {
		var sawAudio, sawFlush bool
		for _, fr := range tr.sentFrames() {
			switch v := fr.(type) {
			case frames.AudioFrame:
				if v.Format() == frames.FormatMuLaw8k && len(v.RawPayload()) == 80 {
					sawAudio = true
				}
			case frames.ControlFrame:
				if v.Code() == frames.ControlFlush {
					sawFlush = true
				}
			}
		}
		return sawAudio && sawFlush
	}, "downconverted audio and flush on the transport")

	st, ok := c.CallStatusFor("CA1")
	if !ok || st.TurnState != "LISTENING" {
		t.Fatalf("expected call back in LISTENING, got %+v", st)
	}

	tr.recvCh <- callEndFrame("stream-1")
	waitFor(t, func() bool { return len(c.ActiveCalls()) == 0 }, "call removed")
	waitFor(t, ep.isClosed, "endpoint session closed")
}

func TestMalformedCarrierFrameKeepsSessionAlive(t *testing.T) {
	tr := newFakeTransport()
	ep := newFakeEndpoint()
	c := newTestCoordinator(tr, ep)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	tr.recvCh <- callStartFrame("stream-1", "CA1")
	waitFor(t, func() bool {
		calls := c.ActiveCalls()
		return len(calls) == 1 && calls[0].Lifecycle == "active"
	}, "call to become active")

	// An empty media payload fails format validation; the session must shrug
	// it off and process the next valid frame normally.
	tr.recvCh <- frames.NewAudioFrame("stream-1", 2, nil, frames.FormatMuLaw8k, 8000, nil)
	tr.recvCh <- frames.NewAudioFrame("stream-1", 3, make([]byte, 160), frames.FormatMuLaw8k, 8000, nil)

	waitFor(t, func() bool { return len(ep.audioFrames()) == 1 }, "valid frame forwarded after malformed one")
	if got := len(ep.audioFrames()[0]); got != 160*3*2 {
		t.Fatalf("expected the valid frame upconverted to 960 bytes, got %d", got)
	}
	calls := c.ActiveCalls()
	if len(calls) != 1 || calls[0].Lifecycle != "active" {
		t.Fatalf("expected call to stay active after malformed frame, got %+v", calls)
	}
}

func TestEndpointOpenFailureHangsUp(t *testing.T) {
	tr := newFakeTransport()
	c := NewCoordinator(Config{}, tr, nil)
	c.SetSessionOpener(func(ctx context.Context, cfg realtime.Config) (EndpointSession, error) {
		return nil, errorsx.Wrap(errors.New("dial refused"), errorsx.ReasonRealtimeConnect)
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	tr.recvCh <- callStartFrame("stream-1", "CA1")
	waitFor(t, func() bool {
		ended := tr.endedCalls()
		return len(ended) == 1 && ended[0] == "CA1"
	}, "carrier leg hung up")
	if len(c.ActiveCalls()) != 0 {
		t.Fatalf("expected no live session after open failure")
	}
}

func TestSessionLimitRejectsExtraCall(t *testing.T) {
	tr := newFakeTransport()
	ep := newFakeEndpoint()
	c := NewCoordinator(Config{MaxSessions: 1}, tr, nil)
	c.SetSessionOpener(func(ctx context.Context, cfg realtime.Config) (EndpointSession, error) {
		return ep, nil
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	tr.recvCh <- callStartFrame("stream-1", "CA1")
	waitFor(t, func() bool { return len(c.ActiveCalls()) == 1 }, "first call admitted")

	tr.recvCh <- callStartFrame("stream-2", "CA2")
	waitFor(t, func() bool {
		ended := tr.endedCalls()
		return len(ended) == 1 && ended[0] == "CA2"
	}, "second call rejected")
}

func TestStopIsIdempotent(t *testing.T) {
	tr := newFakeTransport()
	c := newTestCoordinator(tr, newFakeEndpoint())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStartCallTracksPendingLanguages(t *testing.T) {
	tr := newFakeTransport()
	tr.dialSID = "CA42"
	ep := newFakeEndpoint()
	c := newTestCoordinator(tr, ep)
	var gotCfg realtime.Config
	var cfgMu sync.Mutex
	c.SetSessionOpener(func(ctx context.Context, cfg realtime.Config) (EndpointSession, error) {
		cfgMu.Lock()
		gotCfg = cfg
		cfgMu.Unlock()
		return ep, nil
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	callSID, err := c.StartCall(context.Background(), "+15550100", "fr", "ja")
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	if callSID != "CA42" {
		t.Fatalf("expected dialer sid, got %s", callSID)
	}
	st, ok := c.CallStatusFor("CA42")
	if !ok || st.Lifecycle != "dialing" {
		t.Fatalf("expected dialing status, got %+v", st)
	}

	tr.recvCh <- callStartFrame("stream-42", "CA42")
	waitFor(t, func() bool {
		st, ok := c.CallStatusFor("CA42")
		return ok && st.Lifecycle == "active" && st.SourceLang == "fr" && st.TargetLang == "ja"
	}, "per-call languages applied")

	cfgMu.Lock()
	defer cfgMu.Unlock()
	if gotCfg.SourceLang != "fr" || gotCfg.TargetLang != "ja" {
		t.Fatalf("expected language overrides in endpoint config, got %q/%q", gotCfg.SourceLang, gotCfg.TargetLang)
	}
}

func TestEndCallTearsDownSession(t *testing.T) {
	tr := newFakeTransport()
	ep := newFakeEndpoint()
	c := newTestCoordinator(tr, ep)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	tr.recvCh <- callStartFrame("stream-1", "CA1")
	waitFor(t, func() bool { return len(c.ActiveCalls()) == 1 }, "call active")

	if err := c.EndCall(context.Background(), "CA1"); err != nil {
		t.Fatalf("end call: %v", err)
	}
	if len(c.ActiveCalls()) != 0 {
		t.Fatalf("expected session removed")
	}
	waitFor(t, ep.isClosed, "endpoint closed")
	ended := tr.endedCalls()
	if len(ended) != 1 || ended[0] != "CA1" {
		t.Fatalf("expected carrier hangup for CA1, got %v", ended)
	}
}

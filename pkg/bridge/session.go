package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlate/voxlate/pkg/audio"
	"github.com/voxlate/voxlate/pkg/errorsx"
	"github.com/voxlate/voxlate/pkg/frames"
	"github.com/voxlate/voxlate/pkg/realtime"
	"github.com/voxlate/voxlate/pkg/turn"
)

// Lifecycle tracks one bridged call from carrier attach to teardown.
type Lifecycle int32

const (
	LifecycleConnecting Lifecycle = iota
	LifecycleActive
	LifecycleEnding
	LifecycleEnded
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleConnecting:
		return "connecting"
	case LifecycleActive:
		return "active"
	case LifecycleEnding:
		return "ending"
	case LifecycleEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// EndpointSession is the slice of the realtime session the bridge drives.
type EndpointSession interface {
	SendAudio(pcm []byte) error
	CancelResponse() error
	Events() <-chan realtime.Event
	Close() error
}

// CallSession binds one carrier media stream to one endpoint session and the
// turn machine between them.
type CallSession struct {
	StreamID   string
	CallSID    string
	TraceID    string
	FromNumber string
	SourceLang string
	TargetLang string
	CreatedAt  time.Time

	lifecycle int32
	closeOnce sync.Once

	// Written once by the connect goroutine, read by the dispatch loop and
	// status snapshots.
	mu       sync.Mutex
	endpoint EndpointSession
	machine  *turn.Machine
}

func (s *CallSession) bind(endpoint EndpointSession, machine *turn.Machine) {
	s.mu.Lock()
	s.endpoint = endpoint
	s.machine = machine
	s.mu.Unlock()
}

func (s *CallSession) pipes() (EndpointSession, *turn.Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint, s.machine
}

func (s *CallSession) Lifecycle() Lifecycle {
	return Lifecycle(atomic.LoadInt32(&s.lifecycle))
}

func (s *CallSession) setLifecycle(l Lifecycle) {
	atomic.StoreInt32(&s.lifecycle, int32(l))
}

// forwardCarrierAudio decodes one inbound mu-law frame and pushes it to the
// endpoint. Frames arriving before the endpoint session is up, or during
// teardown, are dropped.
func (s *CallSession) forwardCarrierAudio(payload []byte) error {
	endpoint, _ := s.pipes()
	if s.Lifecycle() != LifecycleActive || endpoint == nil {
		return nil
	}
	pcm, err := audio.DecodeFromCarrier(payload)
	if err != nil {
		return err
	}
	return endpoint.SendAudio(pcm)
}

// teardown releases the endpoint session and closes the turn machine.
// Idempotent; safe to call from the dispatch loop and the event pump.
func (s *CallSession) teardown(reason string) {
	s.closeOnce.Do(func() {
		s.setLifecycle(LifecycleEnding)
		endpoint, machine := s.pipes()
		if machine != nil {
			machine.Close(reason)
		}
		if endpoint != nil {
			_ = endpoint.Close()
		}
		s.setLifecycle(LifecycleEnded)
	})
}

// carrierSink adapts the outbound transport to the turn machine's audio
// sink: wideband assistant audio is companded down to carrier format and
// re-tagged with its own outbound sequence.
type carrierSink struct {
	streamID string
	meta     map[string]string
	seq      *frames.SeqGen
	send     func(frames.Frame) error
}

func (c *carrierSink) WriteAssistantAudio(pcm []byte) error {
	if err := audio.ValidatePCM16(pcm); err != nil {
		return err
	}
	muLaw, err := audio.EncodeForCarrier(pcm)
	if err != nil {
		return err
	}
	if len(muLaw) == 0 {
		return nil
	}
	af := frames.NewAudioFrame(c.streamID, c.seq.Next(c.streamID+"/out"), muLaw, frames.FormatMuLaw8k, 8000, c.meta)
	if err := c.send(af); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}
	return nil
}

func (c *carrierSink) Interrupt() error {
	cf := frames.NewControlFrame(c.streamID, c.seq.Next(c.streamID+"/out"), frames.ControlStartInterruption, c.meta)
	return c.send(cf)
}

// flushListener pads out the buffered outbound tail whenever a response
// finishes, so the last partial carrier frame is not held back waiting for
// more audio.
type flushListener struct {
	streamID string
	meta     map[string]string
	seq      *frames.SeqGen
	send     func(frames.Frame) error
}

func (f *flushListener) OnStateChange(ev turn.StateChange) {
	if ev.FromState == turn.StateGenerating && ev.ToState == turn.StateListening {
		cf := frames.NewControlFrame(f.streamID, f.seq.Next(f.streamID+"/out"), frames.ControlFlush, f.meta)
		_ = f.send(cf)
	}
}

var _ turn.AudioSink = (*carrierSink)(nil)
var _ turn.StateListener = (*flushListener)(nil)

// Package turn drives the conversation-turn state machine for one bridged
// call: it consumes typed endpoint events, owns the turn-state flags, and
// decides when assistant audio may flow back toward the carrier.
package turn

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxlate/voxlate/pkg/errorsx"
	"github.com/voxlate/voxlate/pkg/realtime"
)

type State int

const (
	StateIdle State = iota
	StateListening
	StateUserTurn
	StateAwaitingResponse
	StateGenerating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateUserTurn:
		return "USER_TURN"
	case StateAwaitingResponse:
		return "AWAITING_RESPONSE"
	case StateGenerating:
		return "GENERATING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Flags mirrors the conversation bookkeeping of one call session. Mutated
// only by the machine; read via Snapshot.
type Flags struct {
	UserSpeaking       bool
	AssistantSpeaking  bool
	ResponseInProgress bool
	SessionReady       bool
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// AudioSink receives assistant audio in arrival order (FIFO, single
// consumer) and outward interruption signals on barge-in.
type AudioSink interface {
	WriteAssistantAudio(pcm []byte) error
	Interrupt() error
}

// ResponseCanceler requests server-side cancellation of the in-flight
// response. Forwarding stops locally whether or not the cancel lands.
type ResponseCanceler interface {
	CancelResponse() error
}

// InvalidTransitionError represents an invalid state transition attempt.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// Machine is the single owner of one call's turn state. All event handling
// is serialized; the bridge runs it on one goroutine per call session.
type Machine struct {
	mu       sync.Mutex
	state    State
	flags    Flags
	sink     AudioSink
	canceler ResponseCanceler
	logger   *slog.Logger

	currentResponse string
	listeners       []StateListener
}

func NewMachine(sink AudioSink, canceler ResponseCanceler, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		state:    StateIdle,
		sink:     sink,
		canceler: canceler,
		logger:   logger,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a consistent copy of the turn-state flags.
func (m *Machine) Snapshot() Flags {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, listener)
}

func transitionValid(from, to State) bool {
	validTransitions := map[State][]State{
		StateIdle:             {StateListening},
		StateListening:        {StateUserTurn, StateListening},
		StateUserTurn:         {StateAwaitingResponse, StateGenerating, StateListening},
		StateAwaitingResponse: {StateGenerating, StateListening},
		StateGenerating:       {StateListening, StateUserTurn},
	}
	if to == StateClosed {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition moves to a new state with validation; must be called with the
// lock held. Listeners are notified outside the lock.
func (m *Machine) transition(to State, reason string) error {
	if m.state == to {
		return nil
	}
	if !transitionValid(m.state, to) {
		return &InvalidTransitionError{From: m.state, To: to}
	}
	event := StateChange{
		FromState: m.state,
		ToState:   to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	m.state = to

	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, l := range listeners {
		l.OnStateChange(event)
	}
	m.mu.Lock()
	return nil
}

// HandleEvent applies one endpoint event. Unexpected events for the current
// state are logged and ignored; they never terminate the session.
func (m *Machine) HandleEvent(ev realtime.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return
	}

	switch ev.Type {
	case realtime.EventSessionCreated, realtime.EventSessionUpdated:
		m.flags.SessionReady = true
		if m.state == StateIdle {
			_ = m.transition(StateListening, "session ready")
		}

	case realtime.EventSpeechStarted:
		switch m.state {
		case StateGenerating:
			m.bargeIn()
		case StateListening:
			m.flags.UserSpeaking = true
			_ = m.transition(StateUserTurn, "speech started")
		default:
			m.protocolViolation(ev)
		}

	case realtime.EventSpeechStopped:
		if m.state != StateUserTurn {
			m.protocolViolation(ev)
			return
		}
		m.flags.UserSpeaking = false
		// Server VAD auto-commits the buffered audio; issuing a manual
		// commit here produces duplicate or empty responses.
		_ = m.transition(StateAwaitingResponse, "speech stopped")

	case realtime.EventResponseCreated:
		// The endpoint may emit response.created before speech_stopped is
		// observed, so user_turn is accepted as well.
		if m.state != StateAwaitingResponse && m.state != StateUserTurn {
			m.protocolViolation(ev)
			return
		}
		m.flags.ResponseInProgress = true
		m.flags.UserSpeaking = false
		m.currentResponse = ev.ResponseID
		_ = m.transition(StateGenerating, "response created")

	case realtime.EventAudioDelta:
		if m.state != StateGenerating {
			// Stale delta after barge-in or completion: drop it so no
			// assistant audio precedes its response.created.
			m.protocolViolation(ev)
			return
		}
		m.flags.AssistantSpeaking = true
		if err := m.sink.WriteAssistantAudio(ev.Audio); err != nil {
			m.logger.Warn("turn_forward_audio_failed", "error", err.Error())
		}

	case realtime.EventAudioDone:
		if m.state == StateGenerating {
			m.flags.AssistantSpeaking = false
		}

	case realtime.EventResponseDone:
		m.completeResponse("response done")

	case realtime.EventError:
		m.handleError(ev)

	case realtime.EventUnknown:
		// Forward compatibility: unrecognized events are ignored.

	default:
		m.protocolViolation(ev)
	}
}

// Close moves the machine to its terminal state. Reachable from any state;
// every later event is ignored.
func (m *Machine) Close(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return
	}
	m.flags = Flags{}
	_ = m.transition(StateClosed, reason)
}

// bargeIn handles speech_started while a response is still generating:
// stop forwarding assistant audio, ask the endpoint to cancel, and hand the
// turn back to the user. Must be called with the lock held.
func (m *Machine) bargeIn() {
	m.flags.ResponseInProgress = false
	m.flags.AssistantSpeaking = false
	m.flags.UserSpeaking = true
	m.currentResponse = ""
	if m.canceler != nil {
		if err := m.canceler.CancelResponse(); err != nil {
			m.logger.Warn("turn_cancel_response_failed", "error", err.Error())
		}
	}
	if err := m.sink.Interrupt(); err != nil {
		m.logger.Warn("turn_interrupt_failed", "error", err.Error())
	}
	_ = m.transition(StateUserTurn, "barge-in")
}

// completeResponse unconditionally returns the machine to an input-accepting
// state, even when the response carried no audio or embedded an error.
// Must be called with the lock held.
func (m *Machine) completeResponse(reason string) {
	m.flags.ResponseInProgress = false
	m.flags.AssistantSpeaking = false
	m.currentResponse = ""
	if m.state == StateIdle || m.state == StateListening {
		return
	}
	_ = m.transition(StateListening, reason)
}

// handleError folds per-response errors into the response.done transition so
// the conversation continues; session-fatal transport errors close the
// machine. Must be called with the lock held.
func (m *Machine) handleError(ev realtime.Event) {
	if ev.Err != nil && ev.Err.SessionFatal {
		m.logger.Error("turn_session_fatal", "error", ev.Err.Message)
		m.flags = Flags{}
		_ = m.transition(StateClosed, "session fatal error")
		return
	}
	msg := ""
	if ev.Err != nil {
		msg = ev.Err.Message
	}
	m.logger.Warn("turn_endpoint_error", "response_id", ev.ResponseID, "error", msg)
	if ev.ResponseID != "" || m.state == StateGenerating || m.state == StateAwaitingResponse {
		m.completeResponse("response error")
	}
}

func (m *Machine) protocolViolation(ev realtime.Event) {
	m.logger.Warn("turn_protocol_violation",
		"event", string(ev.Type),
		"state", m.state.String(),
		"reason_code", string(errorsx.ReasonProtocolState),
	)
}

package realtime

import (
	"encoding/base64"
	"encoding/json"
)

// EventType identifies a decoded endpoint event.
type EventType string

const (
	EventSessionCreated  EventType = "session.created"
	EventSessionUpdated  EventType = "session.updated"
	EventSpeechStarted   EventType = "input_audio_buffer.speech_started"
	EventSpeechStopped   EventType = "input_audio_buffer.speech_stopped"
	EventResponseCreated EventType = "response.created"
	EventAudioDelta      EventType = "response.output_audio.delta"
	EventAudioDone       EventType = "response.output_audio.done"
	EventResponseDone    EventType = "response.done"
	EventError           EventType = "error"

	// EventUnknown is the forward-compatibility fallback; unrecognized or
	// malformed messages decode to it and are ignored downstream.
	EventUnknown EventType = "unknown"
)

// Event is a tagged variant decoded from the endpoint's message stream.
// Immutable; consumed exactly once by the conversation state machine.
type Event struct {
	Type       EventType
	ResponseID string

	// Audio holds decoded PCM16 at 24 kHz for audio delta events.
	Audio []byte

	Err *EventErr
}

// EventErr carries the payload of an endpoint error event, or a synthesized
// transport failure when the stream ends abruptly.
type EventErr struct {
	Code       string
	Message    string
	ResponseID string

	// SessionFatal marks mid-session transport failures. Endpoint error
	// events are never fatal by themselves; per-response errors fold into
	// the response.done transition.
	SessionFatal bool
}

type wireEvent struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	ResponseID string `json:"response_id"`
	Delta      string `json:"delta"`
	Response   *struct {
		ID string `json:"id"`
	} `json:"response"`
	Error *struct {
		Type       string `json:"type"`
		Code       string `json:"code"`
		Message    string `json:"message"`
		ResponseID string `json:"response_id"`
	} `json:"error"`
}

// decodeEvent maps a raw endpoint message onto a typed Event. Anything it
// does not recognize comes back as EventUnknown, never an error.
func decodeEvent(raw []byte) Event {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil || w.Type == "" {
		return Event{Type: EventUnknown}
	}

	responseID := w.ResponseID
	if responseID == "" && w.Response != nil {
		responseID = w.Response.ID
	}

	switch w.Type {
	case string(EventSessionCreated):
		return Event{Type: EventSessionCreated}
	case string(EventSessionUpdated):
		return Event{Type: EventSessionUpdated}
	case string(EventSpeechStarted):
		return Event{Type: EventSpeechStarted}
	case string(EventSpeechStopped):
		return Event{Type: EventSpeechStopped}
	case string(EventResponseCreated):
		return Event{Type: EventResponseCreated, ResponseID: responseID}
	case string(EventAudioDelta), "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(w.Delta)
		if err != nil || len(pcm) == 0 || len(pcm)%2 != 0 {
			// Partial or undecodable delta: drop rather than forward an
			// audio artifact.
			return Event{Type: EventUnknown}
		}
		return Event{Type: EventAudioDelta, ResponseID: responseID, Audio: pcm}
	case string(EventAudioDone), "response.audio.done":
		return Event{Type: EventAudioDone, ResponseID: responseID}
	case string(EventResponseDone):
		return Event{Type: EventResponseDone, ResponseID: responseID}
	case string(EventError):
		ev := Event{Type: EventError, Err: &EventErr{}}
		if w.Error != nil {
			ev.Err.Code = w.Error.Code
			ev.Err.Message = w.Error.Message
			ev.Err.ResponseID = w.Error.ResponseID
			ev.ResponseID = w.Error.ResponseID
		}
		return ev
	default:
		return Event{Type: EventUnknown}
	}
}

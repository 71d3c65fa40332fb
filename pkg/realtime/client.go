// Package realtime owns the persistent websocket session with the
// speech-translation endpoint: it serializes the endpoint's typed event
// protocol, pushes input audio, and surfaces decoded events to a single
// consumer.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voxlate/voxlate/pkg/errorsx"
)

const defaultBaseURL = "wss://api.openai.com/v1/realtime"

// VADConfig holds the server-side voice-activity-detection parameters sent
// with the session configuration.
type VADConfig struct {
	Threshold         float64 `mapstructure:"threshold"`
	PrefixPaddingMS   int     `mapstructure:"prefix_padding_ms"`
	SilenceDurationMS int     `mapstructure:"silence_duration_ms"`
}

type Config struct {
	APIKey              string        `mapstructure:"api_key"`
	Model               string        `mapstructure:"model"`
	BaseURL             string        `mapstructure:"base_url"`
	Voice               string        `mapstructure:"voice"`
	SourceLang          string        `mapstructure:"source_lang"`
	TargetLang          string        `mapstructure:"target_lang"`
	InstructionTemplate string        `mapstructure:"instruction_template"`
	Style               string        `mapstructure:"style"`
	Extras              string        `mapstructure:"extras"`
	VAD                 VADConfig     `mapstructure:"vad"`
	HandshakeTimeout    time.Duration `mapstructure:"handshake_timeout"`
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Model == "" {
		c.Model = "gpt-4o-realtime-preview-2024-12-17"
	}
	if c.Voice == "" {
		c.Voice = "verse"
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.VAD.Threshold <= 0 {
		c.VAD.Threshold = 0.5
	}
	if c.VAD.PrefixPaddingMS <= 0 {
		c.VAD.PrefixPaddingMS = 300
	}
	if c.VAD.SilenceDurationMS <= 0 {
		c.VAD.SilenceDurationMS = 500
	}
	return c
}

// Session is one persistent bidirectional connection to the translation
// endpoint. Events() has a single consumer and is not restartable; open a
// new session to resume after any close.
type Session struct {
	cfg  Config
	conn *websocket.Conn

	// sendCh is bounded; enqueue drops the oldest pending message when full
	// so producers never block on a slow socket write.
	sendCh chan []byte
	events chan Event

	// done unblocks readLoop deliveries when the consumer stops draining
	// Events() before Close.
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// Open establishes the connection, applies the session configuration
// (audio formats, voice, server VAD, translation instructions) and reads the
// first endpoint event inline so a rejected configuration fails here rather
// than mid-call.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, errorsx.Wrap(errors.New("missing endpoint credential"), errorsx.ReasonRealtimeAuth)
	}

	endpoint := cfg.BaseURL + "?model=" + url.QueryEscape(cfg.Model)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errorsx.Wrap(fmt.Errorf("endpoint rejected credential: %w", err), errorsx.ReasonRealtimeAuth)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonRealtimeConnect)
	}

	s := &Session{
		cfg:    cfg,
		conn:   conn,
		sendCh: make(chan []byte, 512),
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go s.writeLoop()

	instructions := BuildInstructions(cfg.InstructionTemplate, cfg.SourceLang, cfg.TargetLang, cfg.Style, cfg.Extras)
	if err := s.enqueueJSON(sessionUpdateMsg(cfg, instructions)); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.enqueueJSON(systemItemMsg(instructions)); err != nil {
		_ = s.Close()
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(cfg.HandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		_ = s.Close()
		return nil, errorsx.Wrap(fmt.Errorf("no session event: %w", err), errorsx.ReasonRealtimeConnect)
	}
	_ = conn.SetReadDeadline(time.Time{})

	first := decodeEvent(raw)
	if first.Type == EventError && first.ResponseID == "" {
		_ = s.Close()
		return nil, errorsx.Wrap(fmt.Errorf("endpoint rejected configuration: %s", first.Err.Message), errorsx.ReasonRealtimeConfig)
	}
	s.events <- first
	go s.readLoop()
	return s, nil
}

// SendAudio appends a PCM16@24kHz frame to the endpoint's input audio
// buffer. Fire-and-forget: the frame is queued for async transmission and
// the caller never blocks.
func (s *Session) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if len(pcm)%2 != 0 {
		return errorsx.Wrap(fmt.Errorf("odd pcm length %d", len(pcm)), errorsx.ReasonCodecFormat)
	}
	return s.enqueueJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

// CancelResponse asks the endpoint to abort the in-flight response. Used on
// barge-in; local forwarding stops regardless of the outcome.
func (s *Session) CancelResponse() error {
	return s.enqueueJSON(map[string]any{"type": "response.cancel"})
}

// Events returns the order-preserving decoded event stream. The channel
// closes when the remote closes cleanly; abrupt closes deliver a final
// session-fatal error event first.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Close tears the session down. Idempotent; the underlying transport is
// released even if called during an in-flight send.
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.sendCh)
		if s.done != nil {
			close(s.done)
		}
	}
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) enqueueJSON(msg map[string]any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonRealtimeSend)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errorsx.Wrap(errors.New("session closed"), errorsx.ReasonRealtimeSend)
	}
	select {
	case s.sendCh <- b:
	default:
		// Queue full: drop the oldest pending message to keep latency
		// bounded, then retry once.
		select {
		case <-s.sendCh:
		default:
		}
		select {
		case s.sendCh <- b:
		default:
		}
	}
	return nil
}

func (s *Session) writeLoop() {
	for msg := range s.sendCh {
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *Session) readLoop() {
	defer close(s.events)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			s.deliver(Event{
				Type: EventError,
				Err:  &EventErr{Message: err.Error(), SessionFatal: true},
			})
			return
		}
		if !s.deliver(decodeEvent(raw)) {
			return
		}
	}
}

// deliver pushes an event to the consumer, giving up when the session is
// closed so a stalled consumer never pins the read goroutine.
func (s *Session) deliver(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func sessionUpdateMsg(cfg Config, instructions string) map[string]any {
	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"type":              "realtime",
			"output_modalities": []string{"audio"},
			"audio": map[string]any{
				"input": map[string]any{
					"format": map[string]any{"type": "audio/pcm", "rate": 24000},
					"turn_detection": map[string]any{
						"type":                "server_vad",
						"threshold":           cfg.VAD.Threshold,
						"prefix_padding_ms":   cfg.VAD.PrefixPaddingMS,
						"silence_duration_ms": cfg.VAD.SilenceDurationMS,
					},
				},
				"output": map[string]any{
					"format": map[string]any{"type": "audio/pcm"},
					"voice":  cfg.Voice,
				},
			},
			"instructions": instructions,
		},
	}
}

func systemItemMsg(instructions string) map[string]any {
	return map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "system",
			"content": []map[string]any{
				{"type": "input_text", "text": instructions},
			},
		},
	}
}

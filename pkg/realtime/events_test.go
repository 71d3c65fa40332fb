package realtime

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestDecodeEventTypes(t *testing.T) {
	cases := []struct {
		raw  string
		want EventType
	}{
		{`{"type":"session.created"}`, EventSessionCreated},
		{`{"type":"session.updated"}`, EventSessionUpdated},
		{`{"type":"input_audio_buffer.speech_started"}`, EventSpeechStarted},
		{`{"type":"input_audio_buffer.speech_stopped"}`, EventSpeechStopped},
		{`{"type":"response.created","response":{"id":"resp_1"}}`, EventResponseCreated},
		{`{"type":"response.done","response":{"id":"resp_1"}}`, EventResponseDone},
		{`{"type":"response.output_audio.done"}`, EventAudioDone},
		{`{"type":"rate_limits.updated"}`, EventUnknown},
		{`{"type":"conversation.item.created"}`, EventUnknown},
		{`not json at all`, EventUnknown},
		{`{}`, EventUnknown},
	}
	for _, tc := range cases {
		if got := decodeEvent([]byte(tc.raw)); got.Type != tc.want {
			t.Fatalf("decode %q: expected %s, got %s", tc.raw, tc.want, got.Type)
		}
	}
}

func TestDecodeAudioDelta(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	raw := `{"type":"response.output_audio.delta","response_id":"resp_9","delta":"` +
		base64.StdEncoding.EncodeToString(pcm) + `"}`
	ev := decodeEvent([]byte(raw))
	if ev.Type != EventAudioDelta {
		t.Fatalf("expected audio delta, got %s", ev.Type)
	}
	if ev.ResponseID != "resp_9" {
		t.Fatalf("expected response id resp_9, got %q", ev.ResponseID)
	}
	if string(ev.Audio) != string(pcm) {
		t.Fatalf("audio payload mismatch")
	}
}

func TestDecodeLegacyAudioDelta(t *testing.T) {
	pcm := []byte{0x01, 0x02}
	raw := `{"type":"response.audio.delta","delta":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`
	if ev := decodeEvent([]byte(raw)); ev.Type != EventAudioDelta {
		t.Fatalf("expected legacy delta to decode, got %s", ev.Type)
	}
}

func TestDecodeMalformedDeltaIsUnknown(t *testing.T) {
	for _, raw := range []string{
		`{"type":"response.output_audio.delta","delta":"!!!"}`,
		`{"type":"response.output_audio.delta","delta":""}`,
		// odd byte count is not whole PCM16 samples
		`{"type":"response.output_audio.delta","delta":"` + base64.StdEncoding.EncodeToString([]byte{1}) + `"}`,
	} {
		if ev := decodeEvent([]byte(raw)); ev.Type != EventUnknown {
			t.Fatalf("expected unknown for %q, got %s", raw, ev.Type)
		}
	}
}

func TestDecodeErrorEvent(t *testing.T) {
	raw := `{"type":"error","error":{"code":"response_failed","message":"boom","response_id":"resp_3"}}`
	ev := decodeEvent([]byte(raw))
	if ev.Type != EventError {
		t.Fatalf("expected error event, got %s", ev.Type)
	}
	if ev.Err == nil || ev.Err.Message != "boom" || ev.Err.Code != "response_failed" {
		t.Fatalf("unexpected error payload: %+v", ev.Err)
	}
	if ev.ResponseID != "resp_3" {
		t.Fatalf("expected response id resp_3, got %q", ev.ResponseID)
	}
	if ev.Err.SessionFatal {
		t.Fatalf("endpoint error events must not be session fatal")
	}
}

func TestBuildInstructionsDefaultTemplate(t *testing.T) {
	out := BuildInstructions("", "English", "Korean", "", "Keep it brief.")
	for _, want := range []string{"English", "Korean", "natural and concise", "Keep it brief."} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected instructions to contain %q, got %q", want, out)
		}
	}
}

func TestBuildInstructionsExplicitTemplate(t *testing.T) {
	out := BuildInstructions("Translate {source} into {target}.", "en", "es", "", "")
	if out != "Translate en into es." {
		t.Fatalf("unexpected instructions: %q", out)
	}
}

package errorsx

import "testing"

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonRealtimeConnect)
	if Reason(err) != ReasonRealtimeConnect {
		t.Fatalf("expected reason %s, got %s", ReasonRealtimeConnect, Reason(err))
	}
	if !HasReason(err, ReasonRealtimeConnect) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonCodecFormat)
	second := Wrap(first, ReasonRealtimeConnect)
	if Reason(second) != ReasonCodecFormat {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

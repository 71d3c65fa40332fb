package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Translation endpoint session.
	ReasonRealtimeConnect ReasonCode = "realtime_connect"
	ReasonRealtimeAuth    ReasonCode = "realtime_auth"
	ReasonRealtimeConfig  ReasonCode = "realtime_config"
	ReasonRealtimeSend    ReasonCode = "realtime_send"

	// Audio codec adaptation.
	ReasonCodecFormat ReasonCode = "codec_format"

	// Mid-session transport failures, either leg.
	ReasonTransportClosed ReasonCode = "transport_closed"
	ReasonTransportSend   ReasonCode = "transport_send"

	// Event arrived in a state that does not accept it. Logged, never fatal.
	ReasonProtocolState ReasonCode = "protocol_state"

	// Coordinator-level startup rollback.
	ReasonBridgeStartup ReasonCode = "bridge_startup"

	ReasonWebhookInvalidSignature ReasonCode = "webhook_invalid_signature"
)

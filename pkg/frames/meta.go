package frames

// Meta keys attached to frames as they cross component boundaries.
const (
	MetaStreamID      = "stream_id"
	MetaCallSID       = "call_sid"
	MetaTraceID       = "trace_id"
	MetaFromNumber    = "from_number"
	MetaSource        = "source"
	MetaEncoding      = "encoding"
	MetaFormat        = "format"
	MetaCallEndReason = "call_end_reason"
	MetaOldStreamID   = "old_stream_id"
)

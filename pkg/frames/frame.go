package frames

import "sync"

type Kind string

const (
	KindAudio   Kind = "audio"
	KindControl Kind = "control"
	KindSystem  Kind = "system"
)

// Format tags the encoding and sample rate of an audio frame's payload.
type Format string

const (
	FormatMuLaw8k    Format = "mulaw_8000_1ch_8bit"
	FormatPCM16At8k  Format = "pcm16_8000_1ch"
	FormatPCM16At24k Format = "pcm16_24000_1ch"
)

type ControlCode string

const (
	ControlCancel            ControlCode = "cancel"
	ControlFlush             ControlCode = "flush"
	ControlStartInterruption ControlCode = "start_interruption"
)

type Frame interface {
	Kind() Kind
	Seq() int64
	Meta() map[string]string
}

// AudioFrame is an immutable audio buffer tagged with its format and a
// per-direction sequence number. Ownership moves from producer to consumer;
// the payload is never mutated after creation.
type AudioFrame struct {
	seq    int64
	data   []byte
	format Format
	rate   int
	meta   map[string]string
	pooled bool
}

func NewAudioFrame(streamID string, seq int64, data []byte, format Format, rate int, meta map[string]string) AudioFrame {
	return AudioFrame{
		seq:    seq,
		data:   data,
		format: format,
		rate:   rate,
		meta:   mergeMeta(streamID, meta),
	}
}

func NewAudioFrameFromPool(streamID string, seq int64, data []byte, format Format, rate int, meta map[string]string) AudioFrame {
	buf := AcquireAudioBuf(len(data))
	copy(buf, data)
	return AudioFrame{
		seq:    seq,
		data:   buf,
		format: format,
		rate:   rate,
		meta:   mergeMeta(streamID, meta),
		pooled: true,
	}
}

func (a AudioFrame) Kind() Kind              { return KindAudio }
func (a AudioFrame) Seq() int64              { return a.seq }
func (a AudioFrame) Meta() map[string]string { return cloneMeta(a.meta) }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Format() Format          { return a.format }
func (a AudioFrame) Rate() int               { return a.rate }

func ReleaseAudioFrame(f Frame) bool {
	af, ok := f.(AudioFrame)
	if !ok {
		if ap, ok := f.(*AudioFrame); ok {
			af = *ap
		} else {
			return false
		}
	}
	if af.pooled {
		ReleaseAudioBuf(af.data)
		return true
	}
	return false
}

type ControlFrame struct {
	seq  int64
	code ControlCode
	meta map[string]string
}

func NewControlFrame(streamID string, seq int64, code ControlCode, meta map[string]string) ControlFrame {
	return ControlFrame{
		seq:  seq,
		code: code,
		meta: mergeMeta(streamID, meta),
	}
}

func (c ControlFrame) Kind() Kind              { return KindControl }
func (c ControlFrame) Seq() int64              { return c.seq }
func (c ControlFrame) Meta() map[string]string { return cloneMeta(c.meta) }
func (c ControlFrame) Code() ControlCode       { return c.code }

type SystemFrame struct {
	seq  int64
	name string
	meta map[string]string
}

func NewSystemFrame(streamID string, seq int64, name string, meta map[string]string) SystemFrame {
	return SystemFrame{
		seq:  seq,
		name: name,
		meta: mergeMeta(streamID, meta),
	}
}

func (s SystemFrame) Kind() Kind              { return KindSystem }
func (s SystemFrame) Seq() int64              { return s.seq }
func (s SystemFrame) Meta() map[string]string { return cloneMeta(s.meta) }
func (s SystemFrame) Name() string            { return s.name }

// SeqGen hands out monotonically increasing sequence numbers, one counter
// per direction key (e.g. "<stream>/in", "<stream>/out").
type SeqGen struct {
	mu    sync.Mutex
	value map[string]int64
}

func NewSeqGen() *SeqGen {
	return &SeqGen{value: make(map[string]int64)}
}

func (g *SeqGen) Next(direction string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.value[direction] + 1
	g.value[direction] = v
	return v
}

var audioBufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func AcquireAudioBuf(size int) []byte {
	b := audioBufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func ReleaseAudioBuf(b []byte) {
	audioBufPool.Put(b[:0])
}

func mergeMeta(streamID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 2+len(meta))
	if streamID != "" {
		out[MetaStreamID] = streamID
	}
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

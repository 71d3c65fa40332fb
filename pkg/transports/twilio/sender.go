package twilio

// Twilio media frames carry 20 ms of 8 kHz mu-law audio: 160 bytes.
const frameBytes = 160

// mu-law encoding of a zero sample; used to pad the final partial frame.
const muLawSilence = 0xFF

// frameAssembler re-chunks arbitrary mu-law payloads into whole carrier
// frames, buffering any remainder until the next push or a flush. One
// assembler per stream, used only from that stream's session goroutine.
type frameAssembler struct {
	buf []byte
}

// push appends payload bytes and returns every complete frame now available,
// in order.
func (a *frameAssembler) push(payload []byte) [][]byte {
	a.buf = append(a.buf, payload...)
	var out [][]byte
	for len(a.buf) >= frameBytes {
		frame := make([]byte, frameBytes)
		copy(frame, a.buf[:frameBytes])
		a.buf = a.buf[frameBytes:]
		out = append(out, frame)
	}
	return out
}

// flush drains the remainder. With pad set, the tail is filled with mu-law
// silence so the carrier never receives a partial frame.
func (a *frameAssembler) flush(pad bool) []byte {
	if len(a.buf) == 0 {
		return nil
	}
	rest := a.buf
	a.buf = nil
	if !pad {
		return nil
	}
	frame := make([]byte, frameBytes)
	copy(frame, rest)
	for i := len(rest); i < frameBytes; i++ {
		frame[i] = muLawSilence
	}
	return frame
}

// reset drops any buffered tail, used when the playback buffer is cleared on
// barge-in.
func (a *frameAssembler) reset() {
	a.buf = nil
}

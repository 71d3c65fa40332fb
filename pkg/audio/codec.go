// Package audio converts between the carrier's narrowband mu-law frames
// (8 kHz, 8-bit companded) and the translation endpoint's wideband linear
// PCM (24 kHz, 16-bit signed little-endian). All functions are pure and
// deterministic so they can run on either the send or receive path without
// shared state.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/voxlate/voxlate/pkg/errorsx"
)

// ErrShortFrame reports a malformed or truncated audio frame.
var ErrShortFrame = errors.New("malformed audio frame")

// EncodeForCarrier converts PCM16 at 24 kHz into mu-law at 8 kHz.
// Input blocks of arbitrary length are accepted; an odd byte count is not a
// whole number of 16-bit samples and fails with a codec_format reason.
func EncodeForCarrier(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errorsx.Wrap(fmt.Errorf("%w: odd pcm length %d", ErrShortFrame, len(pcm)), errorsx.ReasonCodecFormat)
	}
	if len(pcm) == 0 {
		return nil, nil
	}
	samples := bytesToSamples(pcm)
	low := downsample3(samples)
	out := make([]byte, len(low))
	for i, s := range low {
		out[i] = muLawEncodeSample(s)
	}
	return out, nil
}

// DecodeFromCarrier converts a mu-law frame at 8 kHz into PCM16 at 24 kHz.
func DecodeFromCarrier(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, errorsx.Wrap(fmt.Errorf("%w: empty carrier frame", ErrShortFrame), errorsx.ReasonCodecFormat)
	}
	narrow := make([]int16, len(frame))
	for i, b := range frame {
		narrow[i] = muLawDecodeSample(b)
	}
	wide := upsample3(narrow)
	return samplesToBytes(wide), nil
}

// ValidatePCM16 checks that a wideband payload holds whole 16-bit samples.
// The endpoint's audio deltas pass through here before being forwarded.
func ValidatePCM16(pcm []byte) error {
	if len(pcm)%2 != 0 {
		return errorsx.Wrap(fmt.Errorf("%w: odd pcm length %d", ErrShortFrame, len(pcm)), errorsx.ReasonCodecFormat)
	}
	return nil
}

func bytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func samplesToBytes(s []int16) []byte {
	out := make([]byte, 2*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

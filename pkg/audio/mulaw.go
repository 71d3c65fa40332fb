package audio

// G.711 mu-law companding, implemented directly so both directions stay
// pure and allocation-free per sample.

const (
	muLawBias = 0x84
	muLawClip = 32635
)

func muLawEncodeSample(s int16) byte {
	var sign byte
	x := int32(s)
	if x < 0 {
		x = -x
		sign = 0x80
	}
	if x > muLawClip {
		x = muLawClip
	}
	x += muLawBias
	exponent := byte(7)
	for mask := int32(0x4000); x&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((x >> (uint(exponent) + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

func muLawDecodeSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	x := (int32(mantissa)<<3 + muLawBias) << exponent
	x -= muLawBias
	if sign != 0 {
		x = -x
	}
	return int16(x)
}

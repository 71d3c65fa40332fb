package audio

// Fixed 3:1 rate conversion between the carrier's 8 kHz domain and the
// endpoint's 24 kHz domain. Both directions are stateless and zero-delay:
// output sample i lines up with input sample 3i, so the time axis is
// preserved within one sample period.

// downsample3 decimates 24 kHz samples to 8 kHz. A triangular [1 2 1]/4
// low-pass centered on each kept sample provides the anti-alias filtering;
// edges clamp to the boundary sample.
func downsample3(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	n := (len(in) + 2) / 3
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		c := 3 * i
		prev := c - 1
		if prev < 0 {
			prev = 0
		}
		next := c + 1
		if next >= len(in) {
			next = len(in) - 1
		}
		acc := int32(in[prev]) + 2*int32(in[c]) + int32(in[next])
		out[i] = int16(acc / 4)
	}
	return out
}

// upsample3 interpolates 8 kHz samples to 24 kHz with linear interpolation
// between neighbours; the tail holds the final sample.
func upsample3(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, 3*len(in))
	for i := 0; i < len(in); i++ {
		cur := int32(in[i])
		next := cur
		if i+1 < len(in) {
			next = int32(in[i+1])
		}
		step := next - cur
		out[3*i] = in[i]
		out[3*i+1] = int16(cur + step/3)
		out[3*i+2] = int16(cur + 2*step/3)
	}
	return out
}

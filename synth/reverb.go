package synth

// A fixed Schroeder-style reverb on the master bus: four parallel comb
// filters into two allpasses, mono in, spread equally to both channels.
// Enough room to glue the tracks together; not a configurable effect.

type (
	reverb struct {
		combs   [4]comb
		allpass [2]allpass
		wet     float32
	}

	comb struct {
		buf []float32
		pos int
		fb  float32
	}

	allpass struct {
		buf []float32
		pos int
		fb  float32
	}
)

const reverbWet = 0.12

func makeReverb(sampleRate int) reverb {
	base := sampleRate / 25
	r := reverb{wet: reverbWet}
	// prime-ish length ratios to keep the combs from resonating together
	lengths := [4]int{base, base * 1117 / 1000, base * 1271 / 1000, base * 1437 / 1000}
	for i := range r.combs {
		r.combs[i] = comb{buf: make([]float32, lengths[i]), fb: 0.72}
	}
	apLengths := [2]int{base * 347 / 1000, base * 213 / 1000}
	for i := range r.allpass {
		n := apLengths[i]
		if n < 1 {
			n = 1
		}
		r.allpass[i] = allpass{buf: make([]float32, n), fb: 0.5}
	}
	return r
}

func (r *reverb) process(buffer []float32) {
	if r.wet <= 0 {
		return
	}
	dry := 1 - r.wet
	for f := 0; f < len(buffer); f += 2 {
		mono := (buffer[f] + buffer[f+1]) * 0.5
		var out float32
		for i := range r.combs {
			out += r.combs[i].process(mono)
		}
		out *= 0.25
		for i := range r.allpass {
			out = r.allpass[i].process(out)
		}
		buffer[f] = buffer[f]*dry + out*r.wet
		buffer[f+1] = buffer[f+1]*dry + out*r.wet
	}
}

func (c *comb) process(in float32) float32 {
	out := c.buf[c.pos]
	c.buf[c.pos] = in + out*c.fb
	c.pos++
	if c.pos >= len(c.buf) {
		c.pos = 0
	}
	return out
}

func (a *allpass) process(in float32) float32 {
	delayed := a.buf[a.pos]
	out := delayed - in
	a.buf[a.pos] = in + delayed*a.fb
	a.pos++
	if a.pos >= len(a.buf) {
		a.pos = 0
	}
	return out
}

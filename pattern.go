package metron

// Pattern is the onset pattern of a single track: one boolean per step, true
// meaning the step fires a note when the playhead lands on it. Patterns are
// value snapshots; a configuration change always produces a new Pattern
// instead of mutating one that the conductor might be reading.
type Pattern []bool

// Generate computes the onset pattern for the given step count, spreading
// pulses onsets as evenly as possible and then left-rotating the result by
// rotation steps.
//
// The spread walks the pattern with a real-valued increment of steps/pulses,
// marking floor(index) on each of the pulses iterations. This is an
// even-spacing approximation, not the canonical Bjorklund algorithm; for some
// (steps, pulses) pairs the onset placement differs from the classical
// Euclidean rhythm, and that is intentional: the rest of the engine and its
// tests depend on exactly this distribution.
//
// The caller is expected to clamp the inputs (TrackConfig.Clamp does);
// Generate only guards against the degenerate cases so that it never panics.
func Generate(steps, pulses, rotation int) Pattern {
	if steps < 1 {
		steps = 1
	}
	pattern := make(Pattern, steps)
	if pulses <= 0 {
		return pattern
	}
	if pulses >= steps {
		for i := range pattern {
			pattern[i] = true
		}
		return pattern
	}
	increment := float64(steps) / float64(pulses)
	index := 0.0
	for i := 0; i < pulses; i++ {
		pattern[int(index)%steps] = true
		index += increment
	}
	return pattern.Rotate(rotation)
}

// Rotate returns a copy of the pattern left-rotated by n steps: the first n
// entries move to the end, preserving onset count and relative order. n is
// reduced modulo the pattern length, so any n is valid.
func (p Pattern) Rotate(n int) Pattern {
	ret := make(Pattern, len(p))
	if len(p) == 0 {
		return ret
	}
	n = ((n % len(p)) + len(p)) % len(p)
	copy(ret, p[n:])
	copy(ret[len(p)-n:], p[:n])
	return ret
}

// At returns the value at index; or false if the index is out of range.
func (p Pattern) At(index int) bool {
	if index < 0 || index >= len(p) {
		return false
	}
	return p[index]
}

// Onsets returns the number of active steps in the pattern.
func (p Pattern) Onsets() int {
	ret := 0
	for _, v := range p {
		if v {
			ret++
		}
	}
	return ret
}

// Copy makes a copy of the Pattern.
func (p Pattern) Copy() Pattern {
	ret := make(Pattern, len(p))
	copy(ret, p)
	return ret
}

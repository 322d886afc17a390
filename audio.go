package metron

// AudioSink is the destination for rendered audio: stereo interleaved
// float32 frames, in the range -1..1.
type AudioSink interface {
	WriteAudio(buffer []float32) error
	Close() error
}

// AudioContext represents the audio environment of the host. It is
// constructed once at the composition root and passed explicitly to whoever
// needs an output; there is no package-level audio singleton.
type AudioContext interface {
	Output() AudioSink
	Close() error
}

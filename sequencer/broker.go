package sequencer

import (
	"time"

	"github.com/karttu/metron"
)

type (
	// Broker carries messages from the sequencing engine to its host. The
	// engine side only ever sends non-blocking (TrySend), so a slow or
	// absent host can never stall a tick; it just loses messages. At the
	// moment the routing is one-to-one, a single buffered channel per
	// recipient, which has been enough.
	Broker struct {
		ToHost chan MsgToHost
	}

	// MsgToHost is a message sent to the host. The master step position is
	// sent every tick and is therefore not boxed; everything infrequent
	// (snapshots, trigger events, alerts) travels boxed in Data as a
	// pointer, which keeps the frequent sends allocation-free.
	MsgToHost struct {
		HasStep bool
		Step    int
		Playing bool

		Data any
	}

	// TrackSnapshot is the "settings changed" notification: the full
	// current configuration and pattern of one track, plus a callable that
	// triggers a note on the track's chain at a given time and duration.
	// Hosts use it for display and manual jamming; it is emitted whenever a
	// track is added or reconfigured.
	TrackSnapshot struct {
		ID      int
		Config  metron.TrackConfig
		Pattern metron.Pattern
		Trigger func(when, duration float64)
	}

	// TrackRemoved notifies the host that a track is gone and any handles
	// to it are stale.
	TrackRemoved struct {
		ID int
	}

	// TriggerEvent reports one scheduled note: which track fired, at what
	// time on the audio timeline and for how long. It is emitted after the
	// note has been dispatched to the sound engine.
	TriggerEvent struct {
		TrackID  int
		When     float64
		Duration float64
	}

	// PeakEvent reports the absolute peak of one rendered audio block, for
	// level metering. Hosts that do not care simply discard them.
	PeakEvent struct {
		Level float32
	}

	// Alert is a non-fatal fault report, e.g. a chain build that failed.
	Alert struct {
		Name     string
		Message  string
		Priority AlertPriority
		Duration time.Duration
	}

	AlertPriority int
)

const (
	Info AlertPriority = iota
	Warning
	Error
)

const defaultAlertDuration = 3 * time.Second

func NewBroker() *Broker {
	return &Broker{
		ToHost: make(chan MsgToHost, 1024),
	}
}

// TrySend is a helper function to send a value to a channel if it is not
// full. It is guaranteed to be non-blocking. Returns true if the value was
// sent, false otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

package metron

// MasterCycleLength is the number of subdivisions in one full master-clock
// cycle. Every track, regardless of its own step count, is mapped onto this
// fixed-resolution cycle; tracks shorter than the master cycle simply advance
// more slowly in local steps per master tick.
const MasterCycleLength = 32

// LocalStep maps a master-clock step onto a track-local step:
// floor(masterStep / MasterCycleLength * trackSteps) mod trackSteps.
//
// The mapping is deterministic and monotonically non-decreasing over one full
// sweep of masterStep (wrapping only at the cycle boundary), and for
// trackSteps <= MasterCycleLength it visits every local step at least once
// per master cycle. This is what lets a 5-step track and an 11-step track run
// polymetrically against the same clock.
func LocalStep(masterStep, trackSteps int) int {
	if trackSteps <= 0 {
		return 0
	}
	return masterStep * trackSteps / MasterCycleLength % trackSteps
}

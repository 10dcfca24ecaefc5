package estimator

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/pose.estimator/internal/linalg"
)

// DefaultSnapshotCapacity bounds the history kept by a LatencyCompensator.
// At a 20 ms control period it covers six seconds of measurement delay.
const DefaultSnapshotCapacity = 300

// ObserverSnapshot is the filter state captured at the start of one control
// cycle, together with what the cycle fed the filter.
type ObserverSnapshot struct {
	Timestamp float64
	// Xhat and P are the estimate before the cycle's predict.
	Xhat *mat.VecDense
	P    *mat.Dense
	U    *mat.VecDense
	// LocalY is the synchronous local measurement corrected after the
	// predict, or nil when the cycle had none.
	LocalY *mat.VecDense
}

func (s ObserverSnapshot) clone() ObserverSnapshot {
	return ObserverSnapshot{
		Timestamp: s.Timestamp,
		Xhat:      linalg.CopyVec(s.Xhat),
		P:         linalg.CopyDense(s.P),
		U:         linalg.CopyVec(s.U),
		LocalY:    linalg.CopyVec(s.LocalY),
	}
}

// LatencyCompensator keeps a bounded, time-ordered history of filter states
// so that a delayed measurement can be applied at the time it describes and
// the intervening cycles replayed on top of it.
type LatencyCompensator struct {
	capacity  int
	snapshots []ObserverSnapshot
}

// NewLatencyCompensator returns a compensator that retains at most capacity
// snapshots. A non-positive capacity selects DefaultSnapshotCapacity.
func NewLatencyCompensator(capacity int) *LatencyCompensator {
	if capacity <= 0 {
		capacity = DefaultSnapshotCapacity
	}
	return &LatencyCompensator{
		capacity:  capacity,
		snapshots: make([]ObserverSnapshot, 0, capacity+1),
	}
}

// Capacity returns the maximum number of retained snapshots.
func (c *LatencyCompensator) Capacity() int { return c.capacity }

// Len returns the number of retained snapshots.
func (c *LatencyCompensator) Len() int { return len(c.snapshots) }

// Snapshots returns deep copies of the retained snapshots, oldest first.
func (c *LatencyCompensator) Snapshots() []ObserverSnapshot {
	out := make([]ObserverSnapshot, len(c.snapshots))
	for i, s := range c.snapshots {
		out[i] = s.clone()
	}
	return out
}

// Clear drops every snapshot. The capacity is unchanged.
func (c *LatencyCompensator) Clear() {
	c.snapshots = c.snapshots[:0]
}

// AddObserverState records the filter's current estimate with the input u
// and local measurement localY about to be applied at time t. When the
// buffer is full the oldest snapshot is evicted.
func (c *LatencyCompensator) AddObserverState(f Filter, u, localY *mat.VecDense, t float64) {
	snap := ObserverSnapshot{
		Timestamp: t,
		Xhat:      f.Xhat(),
		P:         f.P(),
		U:         linalg.CopyVec(u),
		LocalY:    linalg.CopyVec(localY),
	}

	// Equal timestamps keep insertion order.
	idx := sort.Search(len(c.snapshots), func(i int) bool {
		return c.snapshots[i].Timestamp > t
	})
	c.snapshots = append(c.snapshots, ObserverSnapshot{})
	copy(c.snapshots[idx+1:], c.snapshots[idx:])
	c.snapshots[idx] = snap

	if len(c.snapshots) > c.capacity {
		c.snapshots[0] = ObserverSnapshot{}
		c.snapshots = append(c.snapshots[:0], c.snapshots[1:]...)
	}
}

// ApplyPastMeasurement applies y, taken at time t, through the filter's own
// Correct.
func (c *LatencyCompensator) ApplyPastMeasurement(f Filter, nominalDt float64, y *mat.VecDense, t float64) error {
	return c.ApplyPastGlobalMeasurement(f, nominalDt, y, f.Correct, t)
}

// ApplyPastGlobalMeasurement applies y, taken at time t, with correct.
//
// The snapshot closest to t is restored into f (ties go to the earlier
// snapshot) and corrected once with its stored input. Every snapshot from
// there on is then rewritten by replaying its predict and local correction,
// leaving f at the current time with the measurement folded into the whole
// trajectory.
//
// An empty buffer or a t older than the oldest retained snapshot drops the
// measurement and returns nil. On error the buffer and f are left as they
// were before the call.
func (c *LatencyCompensator) ApplyPastGlobalMeasurement(
	f Filter,
	nominalDt float64,
	y *mat.VecDense,
	correct CorrectFunc,
	t float64,
) error {
	if len(c.snapshots) == 0 {
		diagf("latency compensator: no history, dropping measurement at t=%.3f", t)
		return nil
	}
	if oldest := c.snapshots[0].Timestamp; t < oldest {
		diagf("latency compensator: measurement at t=%.3f predates history (oldest t=%.3f), dropping", t, oldest)
		return nil
	}

	start := c.closestIndex(t)
	savedX, savedP := f.Xhat(), f.P()
	restore := func() {
		f.SetXhat(savedX)
		f.SetP(savedP)
	}

	anchor := c.snapshots[start]
	f.SetXhat(anchor.Xhat)
	f.SetP(anchor.P)
	if err := correct(anchor.U, y); err != nil {
		restore()
		opsf("latency compensator: correction at t=%.3f failed: %v", anchor.Timestamp, err)
		return fmt.Errorf("latency compensator: correct at t=%.3f: %w", anchor.Timestamp, err)
	}

	replayed := make([]ObserverSnapshot, 0, len(c.snapshots)-start)
	for i := start; i < len(c.snapshots); i++ {
		snap := c.snapshots[i]
		replayed = append(replayed, ObserverSnapshot{
			Timestamp: snap.Timestamp,
			Xhat:      f.Xhat(),
			P:         f.P(),
			U:         snap.U,
			LocalY:    snap.LocalY,
		})

		dt := nominalDt
		if i > 0 {
			if gap := snap.Timestamp - c.snapshots[i-1].Timestamp; gap > 0 {
				dt = gap
			}
		}
		if err := f.Predict(snap.U, dt); err != nil {
			restore()
			opsf("latency compensator: replay predict at t=%.3f failed: %v", snap.Timestamp, err)
			return fmt.Errorf("latency compensator: replay predict at t=%.3f: %w", snap.Timestamp, err)
		}
		if snap.LocalY != nil {
			if err := f.Correct(snap.U, snap.LocalY); err != nil {
				restore()
				opsf("latency compensator: replay correct at t=%.3f failed: %v", snap.Timestamp, err)
				return fmt.Errorf("latency compensator: replay correct at t=%.3f: %w", snap.Timestamp, err)
			}
		}
	}

	copy(c.snapshots[start:], replayed)
	tracef("latency compensator: measurement at t=%.3f anchored at t=%.3f, replayed %d snapshots",
		t, anchor.Timestamp, len(replayed))
	return nil
}

// closestIndex returns the index of the snapshot nearest t. The buffer must
// be non-empty.
func (c *LatencyCompensator) closestIndex(t float64) int {
	n := len(c.snapshots)
	ceil := sort.Search(n, func(i int) bool {
		return c.snapshots[i].Timestamp >= t
	})
	if ceil == n {
		return n - 1
	}
	if ceil == 0 {
		return 0
	}
	floor := ceil - 1
	if t-c.snapshots[floor].Timestamp <= c.snapshots[ceil].Timestamp-t {
		return floor
	}
	return ceil
}

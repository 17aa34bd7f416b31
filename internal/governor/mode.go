// Package governor implements the deterministic mode governor: signal
// bucketing, the two fixed mode-derivation tables, and the closure
// coordinator that folds counters, ratio, mode, and streak updates into a
// single atomic delta.
//
// Mode selection is a pure table lookup - no probabilistic routing, no
// hidden state. Both derivation paths (the signal-bucket router and the
// closure-time ratio table) commit through the same optimistic-concurrency
// ledger path, so when they disagree the last committed delta wins.
package governor

import "fmt"

// Mode is an operating regime governing which downstream actions are legal.
//
// The governor ladder is RECOVER → CLOSE_LOOPS → BUILD → COMPOUND → SCALE.
// MAINTENANCE and CLOSURE are the ratio table's two lower tiers, kept from
// the older register; the signal router normalizes them onto the ladder
// before advancing.
type Mode string

const (
	ModeRecover    Mode = "RECOVER"
	ModeCloseLoops Mode = "CLOSE_LOOPS"
	ModeBuild      Mode = "BUILD"
	ModeCompound   Mode = "COMPOUND"
	ModeScale      Mode = "SCALE"

	// Ratio-table tiers (legacy register).
	ModeMaintenance Mode = "MAINTENANCE"
	ModeClosure     Mode = "CLOSURE"
)

// ladder is the ordered advancement path of the signal router.
var ladder = []Mode{ModeRecover, ModeCloseLoops, ModeBuild, ModeCompound, ModeScale}

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRecover, ModeCloseLoops, ModeBuild, ModeCompound, ModeScale,
		ModeMaintenance, ModeClosure:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// normalize maps ratio-table tiers onto the ladder: CLOSURE is the
// aggressive close-out posture (CLOSE_LOOPS), MAINTENANCE the steady
// post-close state (BUILD). Ladder modes pass through.
func normalize(m Mode) Mode {
	switch m {
	case ModeClosure:
		return ModeCloseLoops
	case ModeMaintenance:
		return ModeBuild
	default:
		return m
	}
}

// ladderIndex returns the position of a normalized mode on the ladder.
// Unknown modes land at the bottom so routing stays total.
func ladderIndex(m Mode) int {
	for i, lm := range ladder {
		if lm == m {
			return i
		}
	}
	return 0
}

// BuildAllowed reports whether creation work is permitted under a mode.
func BuildAllowed(m Mode) bool {
	switch normalize(m) {
	case ModeBuild, ModeCompound, ModeScale:
		return true
	}
	return false
}

// Qualifying reports whether a mode counts toward the streak.
func Qualifying(m Mode) bool {
	return m == ModeBuild || m == ModeScale
}

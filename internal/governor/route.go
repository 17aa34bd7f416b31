package governor

import "fmt"

// Decision is the result of one routing evaluation.
type Decision struct {
	Next   Mode
	Reason string
}

// Route is the signal-bucket router: a pure, total function from the
// current mode and a bucket vector to the next mode.
//
// Rule order:
//  1. Global overrides, regardless of current mode: LOW sleep forces
//     RECOVER; LOW open-loops (backlog >= 4) forces CLOSE_LOOPS.
//  2. The primary table advances exactly one ladder step when the step's
//     gate condition holds, or regresses SCALE under degradation.
//  3. No applicable rule: the current mode stands.
//
// Route performs no I/O and consults no hidden state; callers fold its
// decision into a ledger commit.
func Route(current Mode, b BucketVector) Decision {
	// Global overrides come first.
	if b.Sleep == Low {
		return Decision{ModeRecover, "sleep below 6h; recovery takes precedence"}
	}
	if b.Loops == Low {
		return Decision{ModeCloseLoops, "open-loop backlog at 4 or more; close before building"}
	}

	switch normalize(current) {
	case ModeRecover:
		// Recovered enough to work the backlog.
		if b.Sleep != Low {
			return Decision{ModeCloseLoops, "sleep restored; resume closing loops"}
		}

	case ModeCloseLoops:
		if b.Loops == High {
			return Decision{ModeBuild, "backlog cleared to 1 or fewer; build"}
		}

	case ModeBuild:
		if b.Shipped != Low && b.DeepWork == High {
			return Decision{ModeCompound, "shipping with 2+ deep work blocks; compound"}
		}

	case ModeCompound:
		if b.Money == High && b.Shipped == High {
			return Decision{ModeScale, "money at target and 2+ assets shipped; scale"}
		}

	case ModeScale:
		// Degradation regressions.
		if b.Money == Low {
			return Decision{ModeBuild, "money delta non-positive; fall back to build"}
		}
		if b.Shipped == Low && b.DeepWork == Low {
			return Decision{ModeCloseLoops, "no output at scale; regroup on loop closure"}
		}
	}

	return Decision{current, ""}
}

// RouteFromRatio is the closure-time table: a second, independent
// derivation keyed on the lifetime closure ratio (percent). It never
// consults Route; precedence between the two is whichever delta commits
// last.
func RouteFromRatio(ratioPct int64) Decision {
	switch {
	case ratioPct >= 80:
		return Decision{ModeScale, fmt.Sprintf("closure ratio %d%%; scale", ratioPct)}
	case ratioPct >= 60:
		return Decision{ModeBuild, fmt.Sprintf("closure ratio %d%%; build", ratioPct)}
	case ratioPct >= 40:
		return Decision{ModeMaintenance, fmt.Sprintf("closure ratio %d%%; maintain", ratioPct)}
	default:
		return Decision{ModeClosure, fmt.Sprintf("closure ratio %d%%; close loops aggressively", ratioPct)}
	}
}

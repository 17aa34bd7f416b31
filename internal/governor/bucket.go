package governor

// Bucket is the three-level discretization of a raw signal.
type Bucket string

const (
	Low  Bucket = "LOW"
	OK   Bucket = "OK"
	High Bucket = "HIGH"
)

// Signals are the raw behavioral inputs to the router. All values are
// integers: sleep in minutes and money in cents, because state documents
// (and therefore digests) forbid floats.
type Signals struct {
	SleepMinutes   int64 `json:"sleep_minutes"`
	OpenLoops      int64 `json:"open_loops"`
	AssetsShipped  int64 `json:"assets_shipped"`
	DeepWorkBlocks int64 `json:"deep_work_blocks"`
	MoneyDelta     int64 `json:"money_delta_cents"`
}

// Fixed bucketing thresholds. Sleep: <6h LOW, 6-7.5h OK, >=7.5h HIGH.
const (
	sleepLowBelow  = 6 * 60
	sleepHighFrom  = 7*60 + 30
	loopsLowFrom   = 4 // >=4 open loops is the LOW (unhealthy) bucket
	loopsHighUpTo  = 1 // <=1 open loop is HIGH
	shippedHighAt  = 2
	deepWorkHighAt = 2
)

// BucketVector is the bucketed form of Signals, the router's only input.
type BucketVector struct {
	Sleep    Bucket `json:"sleep"`
	Loops    Bucket `json:"open_loops"`
	Shipped  Bucket `json:"assets_shipped"`
	DeepWork Bucket `json:"deep_work"`
	Money    Bucket `json:"money_delta"`
}

// BucketSleep discretizes sleep minutes.
func BucketSleep(minutes int64) Bucket {
	switch {
	case minutes < sleepLowBelow:
		return Low
	case minutes >= sleepHighFrom:
		return High
	default:
		return OK
	}
}

// BucketOpenLoops discretizes the open-loop count. More loops is worse:
// >=4 is LOW, 2-3 OK, <=1 HIGH.
func BucketOpenLoops(n int64) Bucket {
	switch {
	case n >= loopsLowFrom:
		return Low
	case n <= loopsHighUpTo:
		return High
	default:
		return OK
	}
}

// BucketAssetsShipped discretizes shipped-asset count: 0 LOW, 1 OK, >=2 HIGH.
func BucketAssetsShipped(n int64) Bucket {
	switch {
	case n <= 0:
		return Low
	case n >= shippedHighAt:
		return High
	default:
		return OK
	}
}

// BucketDeepWork discretizes deep-work blocks: 0 LOW, 1 OK, >=2 HIGH.
func BucketDeepWork(n int64) Bucket {
	switch {
	case n <= 0:
		return Low
	case n >= deepWorkHighAt:
		return High
	default:
		return OK
	}
}

// BucketMoneyDelta discretizes money movement against a target: <=0 LOW,
// >=target HIGH, between OK. A non-positive target collapses OK away.
func BucketMoneyDelta(cents, targetCents int64) Bucket {
	switch {
	case cents <= 0:
		return Low
	case cents >= targetCents:
		return High
	default:
		return OK
	}
}

// BucketAll discretizes a full signal set.
func BucketAll(s Signals, moneyTargetCents int64) BucketVector {
	return BucketVector{
		Sleep:    BucketSleep(s.SleepMinutes),
		Loops:    BucketOpenLoops(s.OpenLoops),
		Shipped:  BucketAssetsShipped(s.AssetsShipped),
		DeepWork: BucketDeepWork(s.DeepWorkBlocks),
		Money:    BucketMoneyDelta(s.MoneyDelta, moneyTargetCents),
	}
}

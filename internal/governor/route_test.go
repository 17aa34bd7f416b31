package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func allBuckets() []Bucket { return []Bucket{Low, OK, High} }

func allModes() []Mode {
	return []Mode{ModeRecover, ModeCloseLoops, ModeBuild, ModeCompound, ModeScale,
		ModeMaintenance, ModeClosure}
}

// okVector returns a vector with every signal OK, which triggers no gate.
func okVector() BucketVector {
	return BucketVector{Sleep: OK, Loops: OK, Shipped: OK, DeepWork: OK, Money: OK}
}

func TestRouteSleepOverride(t *testing.T) {
	v := okVector()
	v.Sleep = Low
	for _, m := range allModes() {
		dec := Route(m, v)
		assert.Equal(t, ModeRecover, dec.Next, "from %s", m)
		assert.NotEmpty(t, dec.Reason)
	}
}

// Backlog of 4+ open loops forces CLOSE_LOOPS from any prior mode, matching
// a day with sleep_hours=7 and open_loops=4.
func TestRouteBacklogOverride(t *testing.T) {
	v := BucketAll(Signals{
		SleepMinutes: 7 * 60,
		OpenLoops:    4,
	}, 10_000)
	for _, m := range allModes() {
		dec := Route(m, v)
		assert.Equal(t, ModeCloseLoops, dec.Next, "from %s", m)
	}
}

func TestRouteSleepOverrideBeatsBacklog(t *testing.T) {
	v := okVector()
	v.Sleep = Low
	v.Loops = Low
	dec := Route(ModeBuild, v)
	assert.Equal(t, ModeRecover, dec.Next)
}

func TestRouteLadderAdvancement(t *testing.T) {
	tests := []struct {
		name    string
		current Mode
		mutate  func(*BucketVector)
		want    Mode
	}{
		{"recover to close_loops on restored sleep", ModeRecover,
			func(v *BucketVector) {}, ModeCloseLoops},
		{"close_loops to build on cleared backlog", ModeCloseLoops,
			func(v *BucketVector) { v.Loops = High }, ModeBuild},
		{"build to compound on shipping with deep work", ModeBuild,
			func(v *BucketVector) { v.Shipped = OK; v.DeepWork = High }, ModeCompound},
		{"compound to scale on money and shipping high", ModeCompound,
			func(v *BucketVector) { v.Money = High; v.Shipped = High }, ModeScale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := okVector()
			tt.mutate(&v)
			dec := Route(tt.current, v)
			assert.Equal(t, tt.want, dec.Next)
			assert.NotEmpty(t, dec.Reason)
		})
	}
}

func TestRouteScaleRegressions(t *testing.T) {
	v := okVector()
	v.Money = Low
	assert.Equal(t, ModeBuild, Route(ModeScale, v).Next)

	v = okVector()
	v.Shipped = Low
	v.DeepWork = Low
	assert.Equal(t, ModeCloseLoops, Route(ModeScale, v).Next)
}

func TestRouteIdentityWhenNoGateFires(t *testing.T) {
	// BUILD with OK everything: not shipping enough to compound, nothing
	// forcing a regression.
	v := okVector()
	v.DeepWork = OK
	dec := Route(ModeBuild, v)
	assert.Equal(t, ModeBuild, dec.Next)
	assert.Empty(t, dec.Reason)
}

func TestRouteLegacyTiersNormalized(t *testing.T) {
	// CLOSURE advances like CLOSE_LOOPS, MAINTENANCE like BUILD.
	v := okVector()
	v.Loops = High
	assert.Equal(t, ModeBuild, Route(ModeClosure, v).Next)

	v = okVector()
	v.Shipped = OK
	v.DeepWork = High
	assert.Equal(t, ModeCompound, Route(ModeMaintenance, v).Next)
}

// The router must be a total function: every (mode, vector) input yields a
// valid mode, and the same input always yields the same output.
func TestRouteTotalAndDeterministic(t *testing.T) {
	for _, m := range allModes() {
		for _, sleep := range allBuckets() {
			for _, loops := range allBuckets() {
				for _, shipped := range allBuckets() {
					for _, deep := range allBuckets() {
						for _, money := range allBuckets() {
							v := BucketVector{Sleep: sleep, Loops: loops,
								Shipped: shipped, DeepWork: deep, Money: money}
							first := Route(m, v)
							_, err := ParseMode(string(first.Next))
							assert.NoError(t, err, "mode=%s vector=%+v", m, v)
							assert.Equal(t, first, Route(m, v))
						}
					}
				}
			}
		}
	}
}

func TestRouteFromRatio(t *testing.T) {
	tests := []struct {
		pct  int64
		want Mode
	}{
		{100, ModeScale},
		{80, ModeScale},
		{79, ModeBuild},
		{62, ModeBuild},
		{60, ModeBuild},
		{59, ModeMaintenance},
		{40, ModeMaintenance},
		{39, ModeClosure},
		{0, ModeClosure},
	}
	for _, tt := range tests {
		dec := RouteFromRatio(tt.pct)
		assert.Equal(t, tt.want, dec.Next, "pct=%d", tt.pct)
		assert.NotEmpty(t, dec.Reason)
	}
}

func TestBuildAllowed(t *testing.T) {
	assert.False(t, BuildAllowed(ModeRecover))
	assert.False(t, BuildAllowed(ModeCloseLoops))
	assert.False(t, BuildAllowed(ModeClosure))
	assert.True(t, BuildAllowed(ModeBuild))
	assert.True(t, BuildAllowed(ModeCompound))
	assert.True(t, BuildAllowed(ModeScale))
	assert.True(t, BuildAllowed(ModeMaintenance)) // normalizes to BUILD
}

func TestQualifying(t *testing.T) {
	assert.True(t, Qualifying(ModeBuild))
	assert.True(t, Qualifying(ModeScale))
	assert.False(t, Qualifying(ModeCompound))
	assert.False(t, Qualifying(ModeMaintenance))
}

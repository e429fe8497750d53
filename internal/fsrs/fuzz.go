package fsrs

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strconv"
	"time"
)

type fuzzRange struct {
	start, end float64
	factor     float64
}

var fuzzRanges = []fuzzRange{
	{2.5, 7.0, 0.15},
	{7.0, 20.0, 0.10},
	{20.0, math.Inf(1), 0.05},
}

// fuzzer jitters intervals with a factor seeded from the review itself, so
// the same review always lands on the same day.
type fuzzer struct {
	seed uint64
}

func newFuzzer(now time.Time, reps int, difficulty, stability float64) *fuzzer {
	h := fnv.New64a()
	h.Write([]byte(strconv.FormatInt(now.UnixMilli(), 10)))
	h.Write([]byte{'_'})
	h.Write([]byte(strconv.Itoa(reps)))
	h.Write([]byte{'_'})
	h.Write([]byte(strconv.FormatFloat(difficulty*stability, 'g', -1, 64)))
	return &fuzzer{seed: h.Sum64()}
}

// fuzzBounds returns the range an interval may be moved within.
func fuzzBounds(interval float64, elapsedDays, maxIvl int) (int, int) {
	delta := 1.0
	for _, r := range fuzzRanges {
		delta += r.factor * math.Max(math.Min(interval, r.end)-r.start, 0)
	}
	interval = math.Min(interval, float64(maxIvl))
	lo := max(2, int(math.Round(interval-delta)))
	hi := min(int(math.Round(interval+delta)), maxIvl)
	if interval > float64(elapsedDays) {
		lo = max(lo, elapsedDays+1)
	}
	lo = min(lo, hi)
	return lo, hi
}

func (fz *fuzzer) apply(interval float64, elapsedDays, maxIvl int) int {
	if interval < 2.5 {
		return clampInterval(int(math.Round(interval)), maxIvl)
	}
	lo, hi := fuzzBounds(interval, elapsedDays, maxIvl)
	// Every interval of one review shares the factor, keeping their order.
	factor := rand.New(rand.NewPCG(fz.seed, fz.seed>>1|1)).Float64()
	fuzzed := int(math.Floor(factor*float64(hi-lo+1))) + lo
	return clampInterval(fuzzed, maxIvl)
}

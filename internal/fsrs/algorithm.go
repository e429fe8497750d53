package fsrs

import (
	"math"

	"github.com/conorfennell/recall/internal/domain"
)

const (
	// Decay is the exponent of the FSRS-5 power forgetting curve.
	Decay = -0.5
	// Factor is chosen so that R(S, S) = 0.9.
	Factor = 19.0 / 81.0

	minStability = 0.01
	maxStability = 36500
)

// DefaultWeights are the published FSRS-5 default parameters.
var DefaultWeights = [19]float64{
	0.40255, 1.18385, 3.173, 15.69105, // w[0..3] initial stability per grade
	7.1949, 0.5345, 1.4604, 0.0046, // w[4..7] difficulty
	1.54575, 0.1192, 1.01925, // w[8..10] recall stability
	1.9395, 0.11, 0.29605, 2.2698, // w[11..14] forget stability
	0.2315, 2.9898, // w[15..16] hard penalty, easy bonus
	0.51655, 0.6621, // w[17..18] short-term stability
}

// ForgettingCurve is R(t, S) = (1 + FACTOR * t / S) ^ DECAY.
func ForgettingCurve(elapsedDays, stability float64) float64 {
	if stability <= 0 {
		return 0
	}
	return math.Pow(1+Factor*elapsedDays/stability, Decay)
}

func (f *FSRS) initStability(g domain.Rating) float64 {
	return math.Max(f.params.W[g-1], 0.1)
}

// initDifficulty is D0(G) = w4 - e^(w5 * (G-1)) + 1, clamped when asked.
func (f *FSRS) initDifficulty(g domain.Rating, clamp bool) float64 {
	d := f.params.W[4] - math.Exp(f.params.W[5]*float64(g-1)) + 1
	if clamp {
		return clampDifficulty(d)
	}
	return d
}

// nextDifficulty applies linear damping then mean reversion toward D0(Easy).
func (f *FSRS) nextDifficulty(d float64, g domain.Rating) float64 {
	w := f.params.W
	delta := -w[6] * (float64(g) - 3)
	next := d + delta*(10-d)/9
	reverted := w[7]*f.initDifficulty(domain.Easy, false) + (1-w[7])*next
	return clampDifficulty(reverted)
}

func (f *FSRS) nextRecallStability(d, s, r float64, g domain.Rating) float64 {
	w := f.params.W
	hardPenalty := 1.0
	if g == domain.Hard {
		hardPenalty = w[15]
	}
	easyBonus := 1.0
	if g == domain.Easy {
		easyBonus = w[16]
	}
	next := s * (1 + math.Exp(w[8])*
		(11-d)*
		math.Pow(s, -w[9])*
		(math.Exp((1-r)*w[10])-1)*
		hardPenalty*easyBonus)
	return clampStability(next)
}

// nextForgetStability is the post-lapse stability. A lapse never raises
// stability; with short-term steps it is also capped at what a same-day
// Again would leave.
func (f *FSRS) nextForgetStability(d, s, r float64) float64 {
	w := f.params.W
	long := w[11] *
		math.Pow(d, -w[12]) *
		(math.Pow(s+1, w[13]) - 1) *
		math.Exp((1-r)*w[14])
	ceiling := s
	if f.params.EnableShortTerm {
		ceiling = s / math.Exp(w[17]*w[18])
	}
	return clampStability(math.Min(long, ceiling))
}

func (f *FSRS) nextShortTermStability(s float64, g domain.Rating) float64 {
	w := f.params.W
	return clampStability(s * math.Exp(w[17]*(float64(g)-3+w[18])))
}

// nextInterval inverts the forgetting curve for the requested retention,
// rounds and clamps the result to [1, maximum_interval], then fuzzes it.
func (f *FSRS) nextInterval(s float64, elapsedDays int, fz *fuzzer) int {
	ivl := clampInterval(int(math.Round(s*f.intervalModifier)), f.params.MaximumInterval)
	if fz != nil {
		return fz.apply(float64(ivl), elapsedDays, f.params.MaximumInterval)
	}
	return ivl
}

func clampInterval(days, maxIvl int) int {
	return min(max(days, 1), maxIvl)
}

func clampStability(s float64) float64 {
	return math.Min(math.Max(s, minStability), maxStability)
}

func clampDifficulty(d float64) float64 {
	return math.Min(math.Max(d, 1), 10)
}

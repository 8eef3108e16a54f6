package convergence

import "math"

const (
	minScore     = 1
	maxScore     = 100
	neutralScore = 50
)

// ScoreToP maps a score in [1,100] to a probability in [eps, 1-eps].
func ScoreToP(score, eps float64) float64 {
	if math.IsNaN(score) {
		return 0.5
	}
	return clamp(score/maxScore, eps, 1-eps)
}

// Logit is the inverse of Sigmoid.
func Logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

// Sigmoid maps the real line onto (0,1).
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// Render turns an anchor and a logit-space shift into an integer score in [1,100].
// NaN or infinite inputs never escape the range.
func Render(baseScore, shiftZ, eps float64) int {
	if math.IsNaN(baseScore) || math.IsInf(baseScore, 0) {
		baseScore = neutralScore
	}
	if math.IsNaN(shiftZ) {
		shiftZ = 0
	}
	v := math.Round(maxScore * Sigmoid(Logit(ScoreToP(baseScore, eps))+shiftZ))
	if math.IsNaN(v) {
		return neutralScore
	}
	return int(clamp(v, minScore, maxScore))
}

// Confidence is a saturating function of accumulated evidence, in [0,1].
func Confidence(strength, scale float64) float64 {
	if math.IsNaN(strength) || strength <= 0 || scale <= 0 {
		return 0
	}
	return clamp(1-math.Exp(-strength/scale), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

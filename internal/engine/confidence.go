package engine

// Confidence scores accumulated evidence on [0,1]. The rule: the fraction of
// successful results, discounted by a saturation term that requires two
// corroborating successes for full confidence. One clean success scores 0.5,
// two score 1.0, and failed results dilute the fraction without ever adding
// evidence. Adding a successful result never lowers the score: both factors
// are non-decreasing in the success count.
func Confidence(results []ToolResult) float64 {
	if len(results) == 0 {
		return 0
	}
	successes := 0
	for _, r := range results {
		if r.Result.Success {
			successes++
		}
	}
	if successes == 0 {
		return 0
	}
	ratio := float64(successes) / float64(len(results))
	saturation := float64(successes) / 2
	if saturation > 1 {
		saturation = 1
	}
	return ratio * saturation
}

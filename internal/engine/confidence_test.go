package engine

import (
	"testing"

	"github.com/semlin/lineaged/internal/tools"
)

func results(successes, failures int) []ToolResult {
	var out []ToolResult
	for i := 0; i < successes; i++ {
		out = append(out, ToolResult{Result: tools.Result{Success: true}})
	}
	for i := 0; i < failures; i++ {
		out = append(out, ToolResult{Result: tools.Result{Success: false}})
	}
	return out
}

func TestConfidence(t *testing.T) {
	cases := []struct {
		name      string
		successes int
		failures  int
		want      float64
	}{
		{"no evidence", 0, 0, 0},
		{"one success", 1, 0, 0.5},
		{"two successes", 2, 0, 1.0},
		{"three successes", 3, 0, 1.0},
		{"all failures", 0, 3, 0},
		{"mixed", 1, 1, 0.25},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Confidence(results(tc.successes, tc.failures))
			if got != tc.want {
				t.Fatalf("Confidence(%d successes, %d failures) = %f, want %f", tc.successes, tc.failures, got, tc.want)
			}
		})
	}
}

func TestConfidenceMonotoneInSuccesses(t *testing.T) {
	for failures := 0; failures <= 3; failures++ {
		prev := 0.0
		for successes := 0; successes <= 5; successes++ {
			got := Confidence(results(successes, failures))
			if got < prev {
				t.Fatalf("confidence dropped from %f to %f at %d successes, %d failures", prev, got, successes, failures)
			}
			prev = got
		}
	}
}

func TestConfidenceBounded(t *testing.T) {
	for successes := 0; successes <= 6; successes++ {
		for failures := 0; failures <= 6; failures++ {
			got := Confidence(results(successes, failures))
			if got < 0 || got > 1 {
				t.Fatalf("confidence out of range: %f", got)
			}
		}
	}
}

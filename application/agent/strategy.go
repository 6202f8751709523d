package agent

import (
	"strings"

	"github.com/indiseek/indiseek/internal/apperr"
)

// Strategy parameterizes the research loop.
type Strategy struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// MaxIterations bounds model turns; the last turn runs without tools
	// to force an answer.
	MaxIterations int `json:"max_iterations"`

	// CritiqueAfterToolCalls injects a verification prompt once this many
	// tool calls have run. Zero disables the critique step.
	CritiqueAfterToolCalls int `json:"critique_after_tool_calls,omitempty"`

	// TwoPass splits the budget into a research pass and a synthesis pass.
	TwoPass bool `json:"two_pass,omitempty"`
}

// StrategyAuto selects a strategy from the prompt shape.
const StrategyAuto = "auto"

var strategies = []Strategy{
	{
		Name:          "single",
		Description:   "One focused lookup pass for narrow questions.",
		MaxIterations: 12,
	},
	{
		Name:                   "classic",
		Description:            "Research loop with a mid-run claim verification step.",
		MaxIterations:          16,
		CritiqueAfterToolCalls: 6,
	},
	{
		Name:          "multi",
		Description:   "Broad two-pass survey for architecture questions.",
		MaxIterations: 20,
		TwoPass:       true,
	},
}

// Strategies lists the registered strategies.
func Strategies() []Strategy {
	out := make([]Strategy, len(strategies))
	copy(out, strategies)
	return out
}

// SelectStrategy resolves a requested strategy name, applying the auto
// heuristic when the caller does not choose.
func SelectStrategy(name, prompt string) (Strategy, error) {
	if name == "" || name == StrategyAuto {
		return autoStrategy(prompt), nil
	}
	for _, s := range strategies {
		if s.Name == name {
			return s, nil
		}
	}
	return Strategy{}, apperr.BadRequest("unknown strategy %q", name)
}

// autoStrategy picks by prompt shape: broad architecture questions get the
// two-pass survey, explanation questions get the verified loop, narrow
// lookups get the short pass.
func autoStrategy(prompt string) Strategy {
	lower := strings.ToLower(prompt)
	broad := []string{"architecture", "overview", "overall", "design", "all the", "every"}
	for _, marker := range broad {
		if strings.Contains(lower, marker) {
			return mustStrategy("multi")
		}
	}
	if len(strings.Fields(prompt)) > 12 ||
		strings.Contains(lower, "how") || strings.Contains(lower, "why") {
		return mustStrategy("classic")
	}
	return mustStrategy("single")
}

func mustStrategy(name string) Strategy {
	for _, s := range strategies {
		if s.Name == name {
			return s
		}
	}
	panic("unregistered strategy " + name)
}

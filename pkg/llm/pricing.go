package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/codeframe-dev/codeframe/pkg/metrics"
)

// ModelPrice is the per-million-token rate for one model, in cents.
type ModelPrice struct {
	InCentsPerMillion  int64 `yaml:"in_cents_per_million"`
	OutCentsPerMillion int64 `yaml:"out_cents_per_million"`
}

// PricingTable maps model names to rates. Unknown models bill at zero and
// are logged once by the caller; cost tracking is advisory, not enforcement.
type PricingTable struct {
	Models map[string]ModelPrice `yaml:"models"`
}

// LoadPricing reads a pricing table from a YAML file. An empty path returns
// an empty table (all completions bill at zero).
func LoadPricing(path string) (*PricingTable, error) {
	if path == "" {
		return &PricingTable{Models: map[string]ModelPrice{}}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing table: %w", err)
	}
	var table PricingTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("failed to parse pricing table: %w", err)
	}
	if table.Models == nil {
		table.Models = map[string]ModelPrice{}
	}
	return &table, nil
}

// Cost returns the billed cents for one completion, rounding up so repeated
// small calls never bill to zero forever.
func (t *PricingTable) Cost(model string, tokensIn, tokensOut int64) int64 {
	price, ok := t.Models[model]
	if !ok {
		return 0
	}
	const million = 1_000_000
	cents := (tokensIn*price.InCentsPerMillion + million - 1) / million
	cents += (tokensOut*price.OutCentsPerMillion + million - 1) / million
	return cents
}

// Observe records token and cost counters for one completion.
func (t *PricingTable) Observe(model string, tokensIn, tokensOut int64) int64 {
	cents := t.Cost(model, tokensIn, tokensOut)
	metrics.CompletionTokens.WithLabelValues(model, "in").Add(float64(tokensIn))
	metrics.CompletionTokens.WithLabelValues(model, "out").Add(float64(tokensOut))
	metrics.CompletionCostCents.WithLabelValues(model).Add(float64(cents))
	return cents
}

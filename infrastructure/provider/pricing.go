package provider

import (
	_ "embed"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed prices.yaml
var pricesYAML []byte

type modelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type priceTable struct {
	Models map[string]modelPrice `yaml:"models"`
}

var loadPrices = sync.OnceValue(func() priceTable {
	var table priceTable
	// The table is embedded and validated by tests; a parse failure means
	// costs report as zero rather than the process failing.
	if err := yaml.Unmarshal(pricesYAML, &table); err != nil {
		return priceTable{Models: map[string]modelPrice{}}
	}
	return table
})

// EstimateCost returns the estimated USD cost of the usage for a model.
// Model ids match by longest known prefix; unknown models cost zero.
func EstimateCost(model string, usage Usage) float64 {
	table := loadPrices()

	var price modelPrice
	bestLen := -1
	for id, p := range table.Models {
		if strings.HasPrefix(model, id) && len(id) > bestLen {
			price = p
			bestLen = len(id)
		}
	}
	if bestLen < 0 {
		return 0
	}
	return float64(usage.PromptTokens)/1e6*price.Input +
		float64(usage.CompletionTokens)/1e6*price.Output
}

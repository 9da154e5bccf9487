package router

import "math"

// ModelDefinition describes one routable model: which provider serves it
// and its JPY rates per thousand tokens.
type ModelDefinition struct {
	Provider        string
	InputCostPer1K  float64
	OutputCostPer1K float64
}

// AIUsage is the billable accounting for one completed stream. Estimated
// is set when the provider reported no counts and the tokenizer estimate
// was used instead. Persistence is the caller's job; this core never
// stores it.
type AIUsage struct {
	InputTokens      int   `json:"input_tokens"`
	OutputTokens     int   `json:"output_tokens"`
	EstimatedCostJPY int64 `json:"estimated_cost_jpy"`
	Estimated        bool  `json:"estimated,omitempty"`
}

// CostJPY computes the yen cost of a call on the given model. Rounding is
// always up, never down or to nearest: fractional yen amounts must not
// undercharge, so one input and one output token on any positively priced
// model costs at least 1.
func CostJPY(def ModelDefinition, inputTokens, outputTokens int) int64 {
	raw := float64(inputTokens)/1000*def.InputCostPer1K + float64(outputTokens)/1000*def.OutputCostPer1K
	if raw <= 0 {
		return 0
	}
	return int64(math.Ceil(raw))
}

package schemas

import "time"

// -- Provider Schemas --

// ProviderDescriptor is the externally visible snapshot of an adapter.
type ProviderDescriptor struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	SupportedModels   []string `json:"supportedModels"`
	CurrentModel      string   `json:"currentModel"`
	CurrentModelIndex int      `json:"currentModelIndex"`
	Configured        bool     `json:"configured"`
}

// ProviderHealth tracks the observed reliability of a provider.
// SuccessRate starts optimistically at 1.0 so a fresh provider is eligible
// for routing before it has handled any traffic.
type ProviderHealth struct {
	Requests    int       `json:"requests"`
	Successes   int       `json:"successes"`
	Failures    int       `json:"failures"`
	LastSuccess time.Time `json:"lastSuccess,omitzero"`
	LastFailure time.Time `json:"lastFailure,omitzero"`
	SuccessRate float64   `json:"successRate"`
}

// CostCalc is the estimated spend for a single generation request.
type CostCalc struct {
	Provider     string  `json:"provider"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	InputCost    float64 `json:"inputCost"`
	OutputCost   float64 `json:"outputCost"`
	TotalCost    float64 `json:"totalCost"`
}

// ConnectionTest reports the outcome of a provider connectivity probe.
type ConnectionTest struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ImageInput is an inline image attached to a prompt, base64 encoded.
type ImageInput struct {
	Source    string `json:"source"`
	MediaType string `json:"mediaType"`
	Data      string `json:"data"`
}

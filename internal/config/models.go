package config

// ModelsConfig holds the model routing tables. Everything here is product
// data and reloads live.
type ModelsConfig struct {
	// Custom maps exact client model names and wins over everything else.
	Custom map[string]string `yaml:"custom_mapping"`
	// OpenAI is keyed by family: gpt-4-series, gpt-4o-series, gpt-5-series.
	OpenAI map[string]string `yaml:"openai_mapping"`
	// Anthropic is keyed by family (claude-4.5-series, claude-3.5-series,
	// claude-default) or by exact legacy model name.
	Anthropic map[string]string `yaml:"anthropic_mapping"`

	Static          map[string]string `yaml:"static_mapping"`
	DefaultModel    string            `yaml:"default_model"`
	NetworkingModel string            `yaml:"networking_model"`
	ImageModel      string            `yaml:"image_model"`
	HighQuality     HighQualityRule   `yaml:"high_quality"`

	// Exposed is the list served on /v1/models.
	Exposed []string `yaml:"exposed"`
}

// HighQualityRule matches models that get web grounding by default when no
// local tools are declared.
type HighQualityRule struct {
	Exact    []string `yaml:"exact"`
	Prefixes []string `yaml:"prefixes"`
	Contains []string `yaml:"contains"`
}

func DefaultModelsConfig() *ModelsConfig {
	return &ModelsConfig{
		Custom:    map[string]string{},
		OpenAI:    map[string]string{},
		Anthropic: map[string]string{},
		Static: map[string]string{
			"claude-opus-4-5-thinking":   "claude-opus-4-5-thinking",
			"claude-sonnet-4-5":          "claude-sonnet-4-5",
			"claude-sonnet-4-5-thinking": "claude-sonnet-4-5-thinking",

			"claude-sonnet-4-5-20250929": "claude-sonnet-4-5-thinking",
			"claude-3-5-sonnet-20241022": "claude-sonnet-4-5",
			"claude-3-5-sonnet-20240620": "claude-sonnet-4-5",
			"claude-opus-4":              "claude-opus-4-5-thinking",
			"claude-opus-4-5-20251101":   "claude-opus-4-5-thinking",
			"claude-haiku-4":             "claude-sonnet-4-5",
			"claude-3-haiku-20240307":    "claude-sonnet-4-5",
			"claude-haiku-4-5-20251001":  "claude-sonnet-4-5",

			"gpt-4":               "gemini-2.5-pro",
			"gpt-4-turbo":         "gemini-2.5-pro",
			"gpt-4-turbo-preview": "gemini-2.5-pro",
			"gpt-4-0125-preview":  "gemini-2.5-pro",
			"gpt-4-1106-preview":  "gemini-2.5-pro",
			"gpt-4-0613":          "gemini-2.5-pro",
			"gpt-4o":              "gemini-2.5-pro",
			"gpt-4o-2024-05-13":   "gemini-2.5-pro",
			"gpt-4o-2024-08-06":   "gemini-2.5-pro",

			"gpt-4o-mini":            "gemini-2.5-flash",
			"gpt-4o-mini-2024-07-18": "gemini-2.5-flash",
			"gpt-3.5-turbo":          "gemini-2.5-flash",
			"gpt-3.5-turbo-16k":      "gemini-2.5-flash",
			"gpt-3.5-turbo-0125":     "gemini-2.5-flash",
			"gpt-3.5-turbo-1106":     "gemini-2.5-flash",
			"gpt-3.5-turbo-0613":     "gemini-2.5-flash",

			"gemini-2.5-flash-lite":     "gemini-2.5-flash-lite",
			"gemini-2.5-flash-thinking": "gemini-2.5-flash-thinking",
			"gemini-3-pro-low":          "gemini-3-pro-low",
			"gemini-3-pro-high":         "gemini-3-pro-high",
			"gemini-3-pro-preview":      "gemini-3-pro-preview",
			"gemini-2.5-flash":          "gemini-2.5-flash",
			"gemini-3-flash":            "gemini-3-flash",
			"gemini-3-pro-image":        "gemini-3-pro-image",
		},
		DefaultModel:    "claude-sonnet-4-5",
		NetworkingModel: "gemini-2.5-flash",
		ImageModel:      "gemini-3-pro-image",
		HighQuality: HighQualityRule{
			Exact:    []string{"gemini-2.5-flash", "gemini-1.5-pro"},
			Prefixes: []string{"gemini-1.5-pro-", "gemini-2.5-flash-", "gemini-2.0-flash", "gemini-3-"},
			Contains: []string{"claude-3-5-sonnet", "claude-3-opus", "claude-sonnet", "claude-opus", "claude-4"},
		},
		Exposed: []string{
			"gemini-2.5-flash-thinking",
			"gemini-2.5-flash",
			"gemini-2.5-pro",
			"gemini-3-flash",
			"claude-sonnet-4-5",
			"claude-sonnet-4-5-thinking",
			"gemini-3-pro-image",
		},
	}
}

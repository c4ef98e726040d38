package router

import (
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/af-corp/antigravity-gateway/internal/config"
	"github.com/af-corp/antigravity-gateway/internal/types"
)

// networkingKeywords identify web-grounding tools across all tool shapes.
var networkingKeywords = []string{
	"web_search",
	"google_search",
	"web_search_20250305",
	"google_search_retrieval",
}

func isNetworkingName(name string) bool {
	return name != "" && slices.Contains(networkingKeywords, name)
}

// Models resolves client model names against the live routing tables.
// The tables are swapped atomically on config reload.
type Models struct {
	cfg atomic.Pointer[config.ModelsConfig]
}

func NewModels(cfg *config.ModelsConfig) *Models {
	m := &Models{}
	m.Update(cfg)
	return m
}

// Update replaces the routing tables. A nil config restores the defaults.
func (m *Models) Update(cfg *config.ModelsConfig) {
	if cfg == nil {
		cfg = config.DefaultModelsConfig()
	}
	m.cfg.Store(cfg)
}

func (m *Models) Config() *config.ModelsConfig {
	return m.cfg.Load()
}

// Resolve maps a client model name to an upstream model.
func (m *Models) Resolve(original string) string {
	cfg := m.cfg.Load()
	return resolve(original, cfg.Custom, cfg.OpenAI, cfg.Anthropic, StaticTable{
		Entries: cfg.Static,
		Default: cfg.DefaultModel,
	})
}

func (m *Models) NetworkingModel() string {
	return m.cfg.Load().NetworkingModel
}

// Exposed returns the model ids served on the models endpoint.
func (m *Models) Exposed() []string {
	return slices.Clone(m.cfg.Load().Exposed)
}

// StaticTable is the last routing step: exact match, then passthrough of
// native and thinking names, then the default model.
type StaticTable struct {
	Entries map[string]string
	Default string
}

// DefaultStaticTable returns the built-in table.
func DefaultStaticTable() StaticTable {
	cfg := config.DefaultModelsConfig()
	return StaticTable{Entries: cfg.Static, Default: cfg.DefaultModel}
}

func (t StaticTable) Map(name string) string {
	if mapped, ok := t.Entries[name]; ok && mapped != "" {
		return mapped
	}
	if strings.HasPrefix(name, "gemini-") || strings.Contains(name, "thinking") {
		return name
	}
	return t.Default
}

// ResolveModelRoute resolves original against the custom and family
// mappings, falling back to the built-in static table.
func ResolveModelRoute(original string, custom, openai, anthropic map[string]string) string {
	return resolve(original, custom, openai, anthropic, DefaultStaticTable())
}

func resolve(original string, custom, openai, anthropic map[string]string, table StaticTable) string {
	if mapped := custom[original]; mapped != "" {
		slog.Debug("model route", "rule", "custom", "model", original, "mapped", mapped)
		return mapped
	}

	lower := strings.ToLower(original)

	if isGPT4Series(lower) {
		if mapped := openai["gpt-4-series"]; mapped != "" {
			slog.Debug("model route", "rule", "gpt-4-series", "model", original, "mapped", mapped)
			return mapped
		}
	}

	if isGPT4oSeries(lower) {
		if mapped := openai["gpt-4o-series"]; mapped != "" {
			slog.Debug("model route", "rule", "gpt-4o-series", "model", original, "mapped", mapped)
			return mapped
		}
	}

	if strings.HasPrefix(lower, "gpt-5") {
		if mapped := openai["gpt-5-series"]; mapped != "" {
			slog.Debug("model route", "rule", "gpt-5-series", "model", original, "mapped", mapped)
			return mapped
		}
		if mapped := openai["gpt-4-series"]; mapped != "" {
			slog.Debug("model route", "rule", "gpt-4-series", "model", original, "mapped", mapped)
			return mapped
		}
	}

	if strings.HasPrefix(lower, "claude-") {
		family := "claude-default"
		switch {
		case strings.Contains(lower, "4-5") || strings.Contains(lower, "4.5"):
			family = "claude-4.5-series"
		case strings.Contains(lower, "3-5") || strings.Contains(lower, "3.5"):
			family = "claude-3.5-series"
		}
		if mapped := anthropic[family]; mapped != "" {
			slog.Debug("model route", "rule", family, "model", original, "mapped", mapped)
			return mapped
		}
		if mapped := anthropic[original]; mapped != "" {
			return mapped
		}
	}

	return table.Map(original)
}

// isGPT4Series covers classic gpt-4 models and the o1/o3 reasoning models.
func isGPT4Series(lower string) bool {
	if lower == "gpt-4" || strings.HasPrefix(lower, "o1-") || strings.HasPrefix(lower, "o3-") {
		return true
	}
	return strings.HasPrefix(lower, "gpt-4") &&
		!strings.Contains(lower, "o") &&
		!strings.Contains(lower, "mini") &&
		!strings.Contains(lower, "turbo")
}

func isGPT4oSeries(lower string) bool {
	return strings.Contains(lower, "4o") ||
		strings.HasPrefix(lower, "gpt-3.5") ||
		(strings.Contains(lower, "mini") && !strings.Contains(lower, "gemini")) ||
		strings.Contains(lower, "turbo")
}

// RequestConfig is the per-request upstream mode derived from the mapped
// model and the declared tools.
type RequestConfig struct {
	RequestType        string
	InjectGoogleSearch bool
	FinalModel         string
	ImageConfig        *types.ImageConfig
}

// RequestConfig decides between image generation, web grounding and plain
// agent mode.
func (m *Models) RequestConfig(original, mapped string, tools []types.Tool) RequestConfig {
	cfg := m.cfg.Load()

	if cfg.ImageModel != "" && strings.HasPrefix(mapped, cfg.ImageModel) {
		return RequestConfig{
			RequestType: types.RequestTypeImageGen,
			FinalModel:  cfg.ImageModel,
			ImageConfig: parseImageConfig(original),
		}
	}

	networking := strings.HasSuffix(original, "-online") ||
		(isHighQuality(cfg.HighQuality, mapped) && !HasNonNetworkingTool(tools)) ||
		HasNetworkingTool(tools)

	final := strings.TrimSuffix(mapped, "-online")
	if networking && (strings.Contains(final, "thinking") || !strings.HasPrefix(final, "gemini-")) {
		final = cfg.NetworkingModel
	}

	requestType := types.RequestTypeAgent
	if networking {
		requestType = types.RequestTypeWebSearch
	}
	return RequestConfig{
		RequestType:        requestType,
		InjectGoogleSearch: networking,
		FinalModel:         final,
	}
}

func parseImageConfig(model string) *types.ImageConfig {
	aspect := "1:1"
	switch {
	case strings.Contains(model, "-16x9"):
		aspect = "16:9"
	case strings.Contains(model, "-9x16"):
		aspect = "9:16"
	case strings.Contains(model, "-4x3"):
		aspect = "4:3"
	case strings.Contains(model, "-3x4"):
		aspect = "3:4"
	}

	ic := &types.ImageConfig{AspectRatio: aspect}
	if strings.Contains(model, "-4k") || strings.Contains(model, "-hd") {
		ic.ImageSize = "4K"
	}
	return ic
}

func isHighQuality(rule config.HighQualityRule, model string) bool {
	if slices.Contains(rule.Exact, model) {
		return true
	}
	for _, p := range rule.Prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	for _, c := range rule.Contains {
		if strings.Contains(model, c) {
			return true
		}
	}
	return false
}

// HasNetworkingTool reports whether any declared tool requests web search.
func HasNetworkingTool(tools []types.Tool) bool {
	for _, t := range tools {
		if isNetworkingName(t.Name) || isNetworkingName(t.Type) {
			return true
		}
		if t.Function != nil && isNetworkingName(t.Function.Name) {
			return true
		}
		for _, decl := range t.FunctionDeclarations {
			if isNetworkingName(decl.Name) {
				return true
			}
		}
		if t.GoogleSearch != nil || t.GoogleSearchRetrieval != nil {
			return true
		}
	}
	return false
}

// HasNonNetworkingTool reports whether any declared tool is a local tool.
func HasNonNetworkingTool(tools []types.Tool) bool {
	for _, t := range tools {
		networking := isNetworkingName(t.Name) ||
			(t.Function != nil && isNetworkingName(t.Function.Name)) ||
			t.GoogleSearch != nil ||
			t.GoogleSearchRetrieval != nil

		if len(t.FunctionDeclarations) > 0 {
			for _, decl := range t.FunctionDeclarations {
				if decl.Name != "" && !isNetworkingName(decl.Name) {
					return true
				}
			}
			networking = true
		}

		if !networking {
			return true
		}
	}
	return false
}

package router

import (
	"testing"

	"github.com/af-corp/antigravity-gateway/internal/config"
	"github.com/af-corp/antigravity-gateway/internal/types"
)

func TestResolveModelRoute_FamilyMapping(t *testing.T) {
	got := ResolveModelRoute("gpt-4-0613", map[string]string{}, map[string]string{"gpt-4-series": "X"}, map[string]string{})
	if got != "X" {
		t.Errorf("expected X, got %s", got)
	}
}

func TestResolveModelRoute_UnmappedFallsThroughToStaticTable(t *testing.T) {
	got := ResolveModelRoute("some-random-model", nil, nil, nil)
	if got != "claude-sonnet-4-5" {
		t.Errorf("expected default model, got %s", got)
	}
}

func TestResolveModelRoute_Priority(t *testing.T) {
	custom := map[string]string{"gpt-4o": "custom-target"}
	openai := map[string]string{
		"gpt-4-series":  "g4",
		"gpt-4o-series": "g4o",
	}
	anthropic := map[string]string{
		"claude-4.5-series":       "c45",
		"claude-3.5-series":       "c35",
		"claude-3-haiku-20240307": "legacy-haiku",
	}

	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o", "custom-target"},
		{"gpt-4", "g4"},
		{"o1-preview", "g4"},
		{"o3-mini", "g4"},
		{"gpt-4o-mini", "g4o"},
		{"gpt-4-turbo", "g4o"},
		{"gpt-3.5-turbo", "g4o"},
		{"gpt-5.1", "g4"},
		{"claude-sonnet-4-5", "c45"},
		{"claude-3.5-sonnet", "c35"},
		{"claude-3-haiku-20240307", "legacy-haiku"},
		{"claude-3-opus", "claude-sonnet-4-5"},
		{"gemini-2.5-flash-mini", "gemini-2.5-flash-mini"},
		{"my-thinking-model", "my-thinking-model"},
	}
	for _, tt := range tests {
		if got := ResolveModelRoute(tt.model, custom, openai, anthropic); got != tt.want {
			t.Errorf("ResolveModelRoute(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestResolveModelRoute_GPT5PrefersOwnSeries(t *testing.T) {
	got := ResolveModelRoute("gpt-5", nil, map[string]string{"gpt-4-series": "g4", "gpt-5-series": "g5"}, nil)
	if got != "g5" {
		t.Errorf("expected g5, got %s", got)
	}
}

func TestStaticTable_Map(t *testing.T) {
	table := DefaultStaticTable()
	tests := map[string]string{
		"gpt-4o":                     "gemini-2.5-pro",
		"gpt-4o-mini":                "gemini-2.5-flash",
		"claude-opus-4":              "claude-opus-4-5-thinking",
		"claude-sonnet-4-5-20250929": "claude-sonnet-4-5-thinking",
		"gemini-9-experimental":      "gemini-9-experimental",
		"unknown":                    "claude-sonnet-4-5",
	}
	for in, want := range tests {
		if got := table.Map(in); got != want {
			t.Errorf("Map(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestModels_ReloadSwapsTables(t *testing.T) {
	m := NewModels(nil)
	if got := m.Resolve("gpt-4o"); got != "gemini-2.5-pro" {
		t.Fatalf("expected gemini-2.5-pro, got %s", got)
	}

	cfg := config.DefaultModelsConfig()
	cfg.Custom["gpt-4o"] = "gemini-3-flash"
	m.Update(cfg)

	if got := m.Resolve("gpt-4o"); got != "gemini-3-flash" {
		t.Errorf("expected reloaded custom mapping, got %s", got)
	}
}

func TestRequestConfig_ImageGeneration(t *testing.T) {
	m := NewModels(nil)

	rc := m.RequestConfig("gemini-3-pro-image-16x9-4k", "gemini-3-pro-image-16x9-4k", nil)
	if rc.RequestType != types.RequestTypeImageGen {
		t.Errorf("expected image_gen, got %s", rc.RequestType)
	}
	if rc.FinalModel != "gemini-3-pro-image" {
		t.Errorf("expected base image model, got %s", rc.FinalModel)
	}
	if rc.ImageConfig == nil || rc.ImageConfig.AspectRatio != "16:9" || rc.ImageConfig.ImageSize != "4K" {
		t.Errorf("unexpected image config: %+v", rc.ImageConfig)
	}
	if rc.InjectGoogleSearch {
		t.Error("image mode must not inject search")
	}

	rc = m.RequestConfig("gemini-3-pro-image", "gemini-3-pro-image", nil)
	if rc.ImageConfig.AspectRatio != "1:1" || rc.ImageConfig.ImageSize != "" {
		t.Errorf("expected default 1:1 without size, got %+v", rc.ImageConfig)
	}
}

func TestRequestConfig_Networking(t *testing.T) {
	m := NewModels(nil)
	local := []types.Tool{{Name: "read_file", InputSchema: map[string]any{"type": "object"}}}
	search := []types.Tool{{Type: "web_search_20250305", Name: "web_search"}}

	tests := []struct {
		name       string
		original   string
		mapped     string
		tools      []types.Tool
		wantType   string
		wantModel  string
		wantInject bool
	}{
		{"online suffix", "gemini-2.5-pro-online", "gemini-2.5-pro-online", nil, types.RequestTypeWebSearch, "gemini-2.5-pro", true},
		{"high quality without tools", "claude-sonnet-4-5", "claude-sonnet-4-5", nil, types.RequestTypeWebSearch, "gemini-2.5-flash", true},
		{"high quality with local tool", "claude-sonnet-4-5", "claude-sonnet-4-5", local, types.RequestTypeAgent, "claude-sonnet-4-5", false},
		{"explicit search tool", "gemini-2.5-pro", "gemini-2.5-pro", search, types.RequestTypeWebSearch, "gemini-2.5-pro", true},
		{"thinking model clamped", "gemini-2.5-flash-thinking", "gemini-2.5-flash-thinking", nil, types.RequestTypeWebSearch, "gemini-2.5-flash", true},
		{"plain agent", "gemini-2.5-pro", "gemini-2.5-pro", nil, types.RequestTypeAgent, "gemini-2.5-pro", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := m.RequestConfig(tt.original, tt.mapped, tt.tools)
			if rc.RequestType != tt.wantType {
				t.Errorf("request type = %s, want %s", rc.RequestType, tt.wantType)
			}
			if rc.FinalModel != tt.wantModel {
				t.Errorf("final model = %s, want %s", rc.FinalModel, tt.wantModel)
			}
			if rc.InjectGoogleSearch != tt.wantInject {
				t.Errorf("inject = %v, want %v", rc.InjectGoogleSearch, tt.wantInject)
			}
		})
	}
}

func TestToolDetection(t *testing.T) {
	tests := []struct {
		name          string
		tools         []types.Tool
		networking    bool
		nonNetworking bool
	}{
		{"none", nil, false, false},
		{"anthropic name", []types.Tool{{Name: "google_search"}}, true, false},
		{"anthropic server type", []types.Tool{{Type: "web_search_20250305"}}, true, true},
		{"openai nested", []types.Tool{{Type: "function", Function: &types.ToolFunction{Name: "web_search"}}}, true, false},
		{"gemini marker", []types.Tool{{GoogleSearch: &types.Empty{}}}, true, false},
		{"gemini declarations local", []types.Tool{{FunctionDeclarations: []types.FunctionDeclaration{{Name: "run"}}}}, false, true},
		{"gemini declarations search", []types.Tool{{FunctionDeclarations: []types.FunctionDeclaration{{Name: "google_search_retrieval"}}}}, true, false},
		{"mixed", []types.Tool{{Name: "web_search"}, {Name: "bash"}}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasNetworkingTool(tt.tools); got != tt.networking {
				t.Errorf("HasNetworkingTool = %v, want %v", got, tt.networking)
			}
			if got := HasNonNetworkingTool(tt.tools); got != tt.nonNetworking {
				t.Errorf("HasNonNetworkingTool = %v, want %v", got, tt.nonNetworking)
			}
		})
	}
}

package tokenizer

import (
	"sort"
	"strings"
)

// DefaultModelID is used when a caller does not name a model.
const DefaultModelID = "stabilityai/stable-diffusion-xl-base-1.0"

const (
	clipL    = "openai/clip-vit-large-patch14"
	openCLIP = "laion/CLIP-ViT-H-14-laion2B-s32B-b79K"
	t5XXL    = "google/t5-v1_1-xxl"
)

// Config describes the tokenizer and limits of one image model.
type Config struct {
	TokenizerID  string `json:"tokenizer_id"`
	MaxTokens    int    `json:"max_tokens"`
	UsableTokens int    `json:"usable_tokens"`
}

var (
	clipConfig     = Config{TokenizerID: clipL, MaxTokens: 77, UsableTokens: 75}
	openCLIPConfig = Config{TokenizerID: openCLIP, MaxTokens: 77, UsableTokens: 75}
	t5Config       = Config{TokenizerID: t5XXL, MaxTokens: 256, UsableTokens: 250}
	t5ShortConfig  = Config{TokenizerID: t5XXL, MaxTokens: 77, UsableTokens: 75}
)

// DefaultConfig applies to models matching no known id or family.
var DefaultConfig = clipConfig

var knownModels = map[string]Config{
	"DeepFloyd/IF-I-XL-v1.0":                      t5ShortConfig,
	"Tencent-Hunyuan/HunyuanDiT-v1.2":             t5Config,
	"tencent/HunyuanImage-3.0":                    t5Config,
	"kandinsky-community/kandinsky-2-2-decoder":   clipConfig,
	"ai-forever/kandinsky-3.1":                    clipConfig,
	"Kwai-Kolors/Kolors":                          t5Config,
	"PixArt-alpha/PixArt-XL-2-1024-MS":            t5Config,
	"stabilityai/stable-cascade":                  clipConfig,
	"CompVis/stable-diffusion-v1-4":               clipConfig,
	"runwayml/stable-diffusion-v1-5":              clipConfig,
	"stable-diffusion-v1-5/stable-diffusion-v1-5": clipConfig,
	"stabilityai/stable-diffusion-2":              openCLIPConfig,
	"stabilityai/stable-diffusion-2-1":            openCLIPConfig,
	"stabilityai/stable-diffusion-xl-base-1.0":    clipConfig,
	"stabilityai/sdxl-turbo":                      clipConfig,
	"warp-ai/wuerstchen":                          clipConfig,
}

// family rules are checked in order against the lowercased model id
var familyRules = []struct {
	markers []string
	config  Config
}{
	{[]string{"pixart"}, t5Config},
	{[]string{"hunyuan"}, t5Config},
	{[]string{"kolors"}, t5Config},
	{[]string{"deepfloyd", "if-i-"}, t5ShortConfig},
	{[]string{"sdxl", "stable-diffusion-xl"}, clipConfig},
	{[]string{"stable-diffusion-2"}, openCLIPConfig},
	{[]string{"cascade", "wuerstchen"}, clipConfig},
	{[]string{"kandinsky"}, clipConfig},
}

// ConfigForModel resolves a model id by exact match, then by family
// marker, then falls back to DefaultConfig.
func ConfigForModel(modelID string) Config {
	if cfg, ok := knownModels[modelID]; ok {
		return cfg
	}

	lower := strings.ToLower(modelID)
	for _, rule := range familyRules {
		for _, marker := range rule.markers {
			if strings.Contains(lower, marker) {
				return rule.config
			}
		}
	}
	return DefaultConfig
}

// ModelInfo describes a known model.
type ModelInfo struct {
	ModelID      string `json:"model_id"`
	TokenizerID  string `json:"tokenizer_id"`
	MaxTokens    int    `json:"max_tokens"`
	UsableTokens int    `json:"usable_tokens"`
}

// ShortName is the part of the model id after the last slash.
func (m ModelInfo) ShortName() string {
	if i := strings.LastIndex(m.ModelID, "/"); i >= 0 {
		return m.ModelID[i+1:]
	}
	return m.ModelID
}

// KnownModels lists every model with an exact mapping, sorted by short name.
func KnownModels() []ModelInfo {
	models := make([]ModelInfo, 0, len(knownModels))
	for id, cfg := range knownModels {
		models = append(models, ModelInfo{
			ModelID:      id,
			TokenizerID:  cfg.TokenizerID,
			MaxTokens:    cfg.MaxTokens,
			UsableTokens: cfg.UsableTokens,
		})
	}
	sort.Slice(models, func(i, j int) bool {
		a, b := models[i].ShortName(), models[j].ShortName()
		if a != b {
			return a < b
		}
		return models[i].ModelID < models[j].ModelID
	})
	return models
}

// PromptContext names the model family a prompt is written for.
type PromptContext struct {
	DisplayName string `json:"display_name"`
	Family      string `json:"family"`
}

// PromptContextForModel resolves the display name and family of modelID.
// An empty id selects DefaultModelID.
func PromptContextForModel(modelID string) PromptContext {
	if modelID == "" {
		modelID = DefaultModelID
	}
	m := strings.ToLower(modelID)

	switch {
	case strings.Contains(m, "pixart"):
		if strings.Contains(m, "sigma") {
			return PromptContext{"PixArt-Sigma", "pixart"}
		}
		return PromptContext{"PixArt-Alpha", "pixart"}
	case strings.Contains(m, "hunyuan"):
		if strings.Contains(m, "3.0") || strings.Contains(m, "image") {
			return PromptContext{"HunyuanImage 3.0", "hunyuan"}
		}
		return PromptContext{"HunyuanDiT", "hunyuan"}
	case strings.Contains(m, "kolors"):
		return PromptContext{"Kolors", "kolors"}
	case strings.Contains(m, "deepfloyd"), strings.Contains(m, "if-i-"):
		return PromptContext{"DeepFloyd IF", "deepfloyd"}
	case strings.Contains(m, "sdxl"), strings.Contains(m, "stable-diffusion-xl"):
		return PromptContext{"Stable Diffusion XL", "sdxl"}
	case strings.Contains(m, "cascade"), strings.Contains(m, "wuerstchen"):
		return PromptContext{"Stable Cascade", "cascade"}
	case strings.Contains(m, "stable-diffusion-2"):
		return PromptContext{"Stable Diffusion 2.1", "sd2"}
	case strings.Contains(m, "stable-diffusion-v1-5"), strings.Contains(m, "sd-v1-5"),
		strings.Contains(m, "stable-diffusion-1"), strings.Contains(m, "compvis"):
		return PromptContext{"Stable Diffusion 1.5", "sd15"}
	case strings.Contains(m, "kandinsky"):
		if strings.Contains(m, "3") {
			return PromptContext{"Kandinsky 3.1", "kandinsky"}
		}
		return PromptContext{"Kandinsky 2.2", "kandinsky"}
	default:
		return PromptContext{"Stable Diffusion", "stable-diffusion"}
	}
}

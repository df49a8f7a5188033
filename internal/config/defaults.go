package config

const (
	defaultEndpoint   = "http://localhost:11434"
	defaultModel      = "openhermes"
	defaultTimeout    = 30
	defaultMaxRetries = 5
	defaultPoolSize   = 3
)

// Default returns the configuration used when no file exists yet.
func Default() Config {
	return Config{
		Ollama: Ollama{
			Endpoint:   defaultEndpoint,
			Model:      defaultModel,
			Timeout:    defaultTimeout,
			MaxRetries: defaultMaxRetries,
			API:        APIOllama,
		},
		Prompt: Prompt{
			MaxTokens:         150,
			TemplateLanguage:  "en",
			TemplateMaxTokens: 50,
			ExpansionTargets: []string{
				"scene", "background", "mood", "color_tone",
				"composition", "camera_angle", "lighting", "theme", "concept",
			},
			ExpansionExcludes: []string{"artist_name", "technique", "style_info"},
		},
		UI: UI{
			ShowProgress: true,
			ShowStatus:   true,
			ShowPreview:  false,
		},
		Logging: Logging{
			Level:               "INFO",
			Format:              "json",
			IncludeTimestamp:    true,
			LogAPICommunication: true,
			LogPromptConversion: true,
		},
		Performance: Performance{
			MemoryLimitGB:   1.0,
			CPULimitPercent: 50,
			PoolSize:        defaultPoolSize,
		},
	}
}

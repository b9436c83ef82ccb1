package config

import (
	"os"
	"path/filepath"
	"strings"

	"meeting-summarizer/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		Bind:                "127.0.0.1:5001",
		InferenceServiceURL: "http://localhost:5002",
		LLMServiceURL:       "http://localhost:1234",
		LLMAPIEndpoint:      "/v1/chat/completions",
		LLMAPIModel:         "gemma-3-4b-it",
		GPUDeviceIndex:      0,
		ArtifactDir:         filepath.Join(homeDir, ".meeting-summarizer", "artifacts"),
		LogLevel:            "info",
	}
}

// Normalize trims user-editable fields and applies defaults for blanks.
func Normalize(cfg domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	cfg.Bind = strings.TrimSpace(cfg.Bind)
	cfg.InferenceServiceURL = strings.TrimRight(strings.TrimSpace(cfg.InferenceServiceURL), "/")
	cfg.LLMServiceURL = strings.TrimRight(strings.TrimSpace(cfg.LLMServiceURL), "/")
	cfg.LLMAPIEndpoint = strings.TrimSpace(cfg.LLMAPIEndpoint)
	cfg.LLMAPIKey = strings.TrimSpace(cfg.LLMAPIKey)
	cfg.LLMAPIModel = strings.TrimSpace(cfg.LLMAPIModel)
	cfg.HFAccessToken = strings.TrimSpace(cfg.HFAccessToken)
	cfg.ArtifactDir = strings.TrimSpace(cfg.ArtifactDir)
	cfg.PromptTemplatePath = strings.TrimSpace(cfg.PromptTemplatePath)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if cfg.Bind == "" {
		cfg.Bind = defaults.Bind
	}
	if cfg.InferenceServiceURL == "" {
		cfg.InferenceServiceURL = defaults.InferenceServiceURL
	}
	if cfg.LLMAPIEndpoint == "" {
		cfg.LLMAPIEndpoint = defaults.LLMAPIEndpoint
	}
	if cfg.LLMAPIModel == "" {
		cfg.LLMAPIModel = defaults.LLMAPIModel
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = defaults.ArtifactDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.GPUDeviceIndex < 0 {
		cfg.GPUDeviceIndex = 0
	}

	return cfg
}

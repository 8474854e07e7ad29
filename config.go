package rowbatch

import (
	"fmt"
	"strconv"
	"time"

	"google.golang.org/genai"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// Retry defaults applied by NewGenAIInvoker.
const (
	DefaultMaxRetries = 5
	DefaultBackoff    = 500 * time.Millisecond
)

// GenerateOption represents options for generation
type GenerateOption func(*generateConfig)

type generateConfig struct {
	ModelName  string
	WebSearch  bool
	Parameters map[string]string // temperature, topK, topP, maxOutputTokens
	MaxRetries int
	Backoff    time.Duration
}

// WithModelName sets the model name
func WithModelName(name string) GenerateOption {
	return func(cfg *generateConfig) {
		cfg.ModelName = name
	}
}

// WithWebSearch attaches the Google Search tool to every request.
func WithWebSearch(enabled bool) GenerateOption {
	return func(cfg *generateConfig) {
		cfg.WebSearch = enabled
	}
}

// WithParameters sets the model parameters
func WithParameters(params map[string]string) GenerateOption {
	return func(cfg *generateConfig) {
		cfg.Parameters = params
	}
}

// WithRetry sets how often a throttled or unavailable call is retried and
// the first backoff delay, which doubles on every attempt. max 0 disables
// retries.
func WithRetry(max int, backoff time.Duration) GenerateOption {
	return func(cfg *generateConfig) {
		cfg.MaxRetries = max
		cfg.Backoff = backoff
	}
}

// contentConfig validates the generation parameters and builds the request
// config.
func (cfg *generateConfig) contentConfig() (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}
	if cfg.WebSearch {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	if temp, exists := cfg.Parameters["temperature"]; exists {
		tempFloat, err := strconv.ParseFloat(temp, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature parameter '%s': %w", temp, err)
		}
		if tempFloat < 0 || tempFloat > 2 {
			return nil, fmt.Errorf("temperature parameter '%v' must be between 0.0 and 2.0", tempFloat)
		}
		val := float32(tempFloat)
		config.Temperature = &val
	}
	if topK, exists := cfg.Parameters["topK"]; exists {
		topKFloat, err := strconv.ParseFloat(topK, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid topK parameter '%s': %w", topK, err)
		}
		if topKFloat <= 0 {
			return nil, fmt.Errorf("topK parameter '%v' must be greater than 0", topKFloat)
		}
		val := float32(topKFloat)
		config.TopK = &val
	}
	if topP, exists := cfg.Parameters["topP"]; exists {
		topPFloat, err := strconv.ParseFloat(topP, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid topP parameter '%s': %w", topP, err)
		}
		if topPFloat < 0 || topPFloat > 1 {
			return nil, fmt.Errorf("topP parameter '%v' must be between 0.0 and 1.0", topPFloat)
		}
		val := float32(topPFloat)
		config.TopP = &val
	}
	if maxTokens, exists := cfg.Parameters["maxOutputTokens"]; exists {
		maxTokensInt, err := strconv.Atoi(maxTokens)
		if err != nil {
			return nil, fmt.Errorf("invalid maxOutputTokens parameter '%s': %w", maxTokens, err)
		}
		if maxTokensInt <= 0 {
			return nil, fmt.Errorf("maxOutputTokens parameter '%d' must be greater than 0", maxTokensInt)
		}
		config.MaxOutputTokens = int32(maxTokensInt)
	}
	return config, nil
}

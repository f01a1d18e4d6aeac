package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/formulary-group/ingredient-cli/internal/config"
)

func TestCompileConfig_FromConfig(t *testing.T) {
	cfg = &config.Config{
		Anthropic: config.AnthropicConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 1024},
		Compile:   config.CompileConfig{Workers: 2, Limit: 5, ItemBatchSize: 10},
	}
	t.Cleanup(func() { cfg = nil })

	c := compileConfig()
	assert.Equal(t, "claude-haiku-4-5-20251001", c.Model)
	assert.Equal(t, int64(1024), c.MaxTokens)
	assert.Equal(t, 2, c.Workers)
	assert.Equal(t, 5, c.Limit)
	assert.Equal(t, 10, c.ItemBatchSize)
}

func TestCompileConfig_FlagOverrides(t *testing.T) {
	cfg = &config.Config{
		Compile: config.CompileConfig{Workers: 1, Limit: 0},
	}
	compileWorkers = 4
	compileLimit = 9
	t.Cleanup(func() {
		cfg = nil
		compileWorkers = 0
		compileLimit = 0
	})

	c := compileConfig()
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, 9, c.Limit)
}

func TestEnrichConfig_RetryAttempts(t *testing.T) {
	cfg = &config.Config{
		Enrich: config.EnrichConfig{Workers: 3, RetryAttempts: 5},
	}
	t.Cleanup(func() { cfg = nil })

	c := enrichConfig()
	assert.Equal(t, 3, c.Workers)
	assert.Equal(t, 5, c.Retry.MaxAttempts)
}

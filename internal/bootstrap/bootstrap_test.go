package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/reading-assistant/config"
	"github.com/feichai0017/reading-assistant/internal/llm"
	"github.com/feichai0017/reading-assistant/pkg/logger"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Mongo.URI = MemoryURI
	cfg.Providers.OpenAI.APIKey = ""
	cfg.Providers.Gemini.APIKey = ""
	cfg.Embedding.APIKey = ""
	return cfg
}

func TestBuildWithMemoryStore(t *testing.T) {
	log := logger.NewTestLogger()
	cfg := memoryConfig()
	cfg.Providers.Order = []string{"zhipu", "gemini", "ollama"}

	app, err := Build(context.Background(), cfg, log)
	require.NoError(t, err)
	defer app.Close(context.Background())

	assert.NotNil(t, app.Documents)
	assert.NotNil(t, app.Chat)
	assert.NotNil(t, app.Queue)
	assert.Equal(t, []llm.ProviderName{llm.ProviderOllama}, app.Chain.Names())
	assert.Contains(t, app.Checks, "redis")
	assert.NotContains(t, app.Checks, "mongo")
	assert.True(t, log.HasMessage("WARN", "provider has no api key"))
}

func TestBuildRejectsUnknownProvider(t *testing.T) {
	cfg := memoryConfig()
	cfg.Providers.Order = []string{"anthropic"}

	app, err := Build(context.Background(), cfg, logger.NewTestLogger())
	assert.Error(t, err)
	assert.Nil(t, app)
}

func TestNewStoragesSkipsUnconfigured(t *testing.T) {
	s, err := NewStorages(context.Background(), memoryConfig(), logger.NewTestLogger())
	require.NoError(t, err)
	assert.Empty(t, s)
}

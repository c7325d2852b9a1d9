package llm

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rand-agent/internal/domain"
	"rand-agent/internal/infra/config"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	reg := Registration{
		BaseURL: "http://local",
		New: func(cfg config.ProviderConfig, _ *slog.Logger) (domain.LLMProvider, error) {
			return &mockProvider{name: cfg.Name}, nil
		},
	}
	require.NoError(t, r.Register(domain.ProviderOpenAI, reg))
	assert.ErrorContains(t, r.Register(domain.ProviderOpenAI, reg), "already registered")

	got, err := r.Get(domain.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "http://local", got.BaseURL)

	_, err = r.Get(domain.ProviderGroq)
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
	assert.Equal(t, []domain.ProviderTag{domain.ProviderOpenAI}, r.Tags())
}

func TestDefaultRegistryCoversSupportedTags(t *testing.T) {
	r := DefaultRegistry()
	tags := r.Tags()

	assert.Len(t, tags, len(domain.ProviderTags)-2)
	assert.NotContains(t, tags, domain.ProviderAzure)
	assert.NotContains(t, tags, domain.ProviderPerplexity)

	for _, tag := range tags {
		reg, err := r.Get(tag)
		require.NoError(t, err, tag)
		assert.NoError(t, checkBaseURL(reg.BaseURL), tag)

		p, err := reg.New(config.ProviderConfig{Name: string(tag), BaseURL: reg.BaseURL, Model: "m"}, testLogger())
		require.NoError(t, err, tag)
		assert.Equal(t, string(tag), p.Name())
		_, streams := p.(domain.StreamingLLMProvider)
		assert.True(t, streams, tag)
	}
}

func TestDefaultRegistryBaseURLs(t *testing.T) {
	r := DefaultRegistry()
	for tag, want := range map[domain.ProviderTag]string{
		domain.ProviderBigmodel:  BigmodelBaseURL,
		domain.ProviderMoonshot:  "https://api.moonshot.cn/v1",
		domain.ProviderGaladriel: "https://api.galadriel.com/v1/verified",
		domain.ProviderOllama:    OllamaBaseURL,
	} {
		reg, err := r.Get(tag)
		require.NoError(t, err)
		assert.Equal(t, want, reg.BaseURL, tag)
	}
}

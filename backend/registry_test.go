package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFactory struct{ name string }

func (f fakeFactory) Name() string { return f.name }
func (f fakeFactory) CreateChatModel(model string, settings Settings) (ChatBackend, error) {
	return nil, nil
}
func (f fakeFactory) ListModels(ctx context.Context, settings Settings) ([]ModelInfo, error) {
	return nil, nil
}
func (f fakeFactory) Embedder(settings Settings) (Embedder, error) { return nil, nil }

func TestParseModelString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in           string
		wantProvider string
		wantModel    string
	}{
		{"claude", "claude", ""},
		{"claude:claude-sonnet-4-5", "claude", "claude-sonnet-4-5"},
		{"openai/gpt-5", "openai", "gpt-5"},
		{"Gemini:gemini-2.5-pro", "gemini", "gemini-2.5-pro"},
	}
	for _, tt := range tests {
		p, m := ParseModelString(tt.in)
		assert.Equal(t, tt.wantProvider, p, tt.in)
		assert.Equal(t, tt.wantModel, m, tt.in)
	}
}

func TestRegisterAndLookup(t *testing.T) {
	Register(fakeFactory{name: "test-provider-registry-lookup"})

	f, ok := Lookup("TEST-PROVIDER-REGISTRY-LOOKUP")
	require.True(t, ok)
	assert.Equal(t, "test-provider-registry-lookup", f.Name())

	_, ok = Lookup("does-not-exist")
	assert.False(t, ok)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	Register(fakeFactory{name: "test-provider-registry-dup"})
	assert.Panics(t, func() {
		Register(fakeFactory{name: "test-provider-registry-dup"})
	})
}

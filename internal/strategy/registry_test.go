package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-pipeline/internal/model"
)

type stubStrategy struct {
	name  string
	score float64
}

func (s stubStrategy) Name() string            { return s.name }
func (s stubStrategy) Detect(_ string) float64 { return s.score }
func (s stubStrategy) Execute(context.Context, Request) (*model.ScrapingResult, error) {
	return &model.ScrapingResult{ScraperID: s.name, Success: true}, nil
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry(stubStrategy{name: "static"}, stubStrategy{name: "api"})

	s, err := r.Get("api")
	require.NoError(t, err)
	assert.Equal(t, "api", s.Name())

	_, err = r.Get("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry(stubStrategy{name: "static", score: 0.1})
	r.Register(stubStrategy{name: "static", score: 0.9})

	assert.Equal(t, []string{"static"}, r.Names())
	s, err := r.Get("static")
	require.NoError(t, err)
	assert.Equal(t, 0.9, s.Detect(""))
}

func TestRegistry_ResolveAuto(t *testing.T) {
	r := NewRegistry(
		stubStrategy{name: "static", score: 0.6},
		stubStrategy{name: "api", score: 0.9},
		stubStrategy{name: "also-api", score: 0.9},
	)
	s, err := r.Resolve(Auto, "https://acme.com/api")
	require.NoError(t, err)
	assert.Equal(t, "api", s.Name())

	s, err = r.Resolve("static", "https://acme.com/api")
	require.NoError(t, err)
	assert.Equal(t, "static", s.Name())
}

func TestRegistry_ResolveAutoNoCandidate(t *testing.T) {
	r := NewRegistry(stubStrategy{name: "static", score: 0})
	_, err := r.Resolve(Auto, "ftp://x")
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestRegistry_Known(t *testing.T) {
	r := NewRegistry(stubStrategy{name: "static"})
	assert.True(t, r.Known(Auto))
	assert.True(t, r.Known("static"))
	assert.False(t, r.Known("dynamic"))
}

func TestBlockedError(t *testing.T) {
	err := &BlockedError{URL: "https://acme.com", Type: BlockCaptcha}
	assert.Equal(t, "blocked (captcha) at https://acme.com", err.Error())
}

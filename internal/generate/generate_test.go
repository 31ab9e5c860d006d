package generate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/pkg/anthropic"
	anthropicmocks "github.com/sells-group/research-pipeline/pkg/anthropic/mocks"
)

func testSession() *model.ResearchSession {
	return &model.ResearchSession{
		ID:          "s1",
		Domain:      "acme.com",
		CompanyName: "Acme",
		MergedData: model.MergedDataset{
			Stats: model.DatasetStats{TotalPages: 3, DataPoints: 7, UniqueTechnologies: []string{"wordpress", "nginx"}},
			Extracted: model.ExtractedData{
				Emails:   []string{"info@acme.com"},
				Phones:   []string{"+15551234567"},
				Services: []string{"Welding", "Anvil repair"},
			},
		},
		PhaseResults: map[model.Phase]model.PhaseResult{
			model.PhaseScraping: {Phase: model.PhaseScraping, Success: true, DurationMs: 1200},
		},
	}
}

func testIntel() *model.ExternalIntelligence {
	return &model.ExternalIntelligence{
		Summary: model.IntelligenceSummary{Completeness: 45, Classification: model.ClassificationPrivate},
		Records: map[model.EnrichmentCategory]model.EnrichmentRecord{
			model.CategoryProfessional: {Present: true, Payload: json.RawMessage(`{ "industry": "Manufacturing" }`)},
			model.CategoryFinancial:    {Skipped: true},
			model.CategorySocial:       {Error: "boom"},
			model.CategoryNews:         {},
		},
	}
}

func TestFormatOutline(t *testing.T) {
	out := FormatOutline(testSession(), testIntel())

	assert.True(t, strings.HasPrefix(out, "# Company Brief: Acme\n"))
	assert.Contains(t, out, "- Pages analyzed: 3")
	assert.Contains(t, out, "- Intelligence completeness: 45.0%")
	assert.Contains(t, out, "## Technologies\n- nginx\n- wordpress\n")
	assert.Contains(t, out, "## Services\n- Anvil repair\n- Welding\n")
	assert.Contains(t, out, `- professional: {"industry":"Manufacturing"}`)
	assert.Contains(t, out, "- financial: skipped")
	assert.Contains(t, out, "- social: unavailable")
	assert.Contains(t, out, "- news: nothing found")
	assert.Contains(t, out, "- local_business: not run")
	assert.Contains(t, out, "- SCRAPING: ok (1200ms, 0 errors)")
	assert.NotContains(t, out, "## People")
}

func TestFormatOutline_NoIntel(t *testing.T) {
	sess := testSession()
	sess.CompanyName = ""
	out := FormatOutline(sess, nil)

	assert.True(t, strings.HasPrefix(out, "# Company Brief: acme.com\n"))
	assert.NotContains(t, out, "External Intelligence")
}

func TestSection_Caps(t *testing.T) {
	var b strings.Builder
	items := make([]string, 20)
	for i := range items {
		items[i] = string(rune('a' + i))
	}
	section(&b, "Letters", items)
	assert.Contains(t, b.String(), "- ... and 5 more\n")
}

func TestOutline_RequiresSession(t *testing.T) {
	_, err := NewOutline().Generate(context.Background(), nil, nil)
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestLLM_Generate(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == defaultModel && strings.Contains(req.Messages[0].Content, "Company Brief: Acme")
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "## Overview\nAcme makes anvils."}},
		Usage:   anthropic.TokenUsage{InputTokens: 500, OutputTokens: 40},
	}, nil)

	r, err := NewLLM(client, "").Generate(context.Background(), testSession(), testIntel())
	require.NoError(t, err)
	assert.Equal(t, "## Overview\nAcme makes anvils.", r.Markdown)
	assert.Equal(t, "Company Brief: Acme", r.Title)
	assert.Equal(t, int64(500), r.InputTokens)
	assert.Equal(t, defaultModel, r.Summary()["model"])
}

func TestLLM_FallsBackToOutline(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	r, err := NewLLM(client, "").Generate(context.Background(), testSession(), nil)
	require.NoError(t, err)
	assert.Empty(t, r.Model)
	assert.Contains(t, r.Markdown, "# Company Brief: Acme")
	assert.NotContains(t, r.Summary(), "model")
}

func TestLLM_Cancelled(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, context.Canceled)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLLM(client, "").Generate(ctx, testSession(), nil)
	require.ErrorIs(t, err, context.Canceled)
}

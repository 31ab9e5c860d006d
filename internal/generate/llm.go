package generate

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/pkg/anthropic"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 2048
)

const briefSystemPrompt = `You write short company briefs for analysts.
You receive a markdown outline of facts collected about one company.
Rewrite it as a brief with the sections Overview, Offering, People,
Contact and Signals. Use only facts present in the outline.`

// LLM writes the brief with a model from the outline. When the model call
// fails the outline is returned instead, flagged in the log.
type LLM struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	outline   *Outline
}

// NewLLM returns a model-backed generator. An empty model selects the
// default.
func NewLLM(client anthropic.Client, modelID string) *LLM {
	if modelID == "" {
		modelID = defaultModel
	}
	return &LLM{client: client, model: modelID, maxTokens: defaultMaxTokens, outline: NewOutline()}
}

func (g *LLM) Generate(ctx context.Context, sess *model.ResearchSession, intel *model.ExternalIntelligence) (*Report, error) {
	base, err := g.outline.Generate(ctx, sess, intel)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System: []anthropic.SystemBlock{{
			Text:         briefSystemPrompt,
			CacheControl: &anthropic.CacheControl{TTL: "5m"},
		}},
		Messages: []anthropic.Message{{Role: "user", Content: base.Markdown}},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "generate: cancelled")
		}
		zap.L().Warn("generate: model call failed, using outline",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		return base, nil
	}
	resp.Usage.LogCost(g.model, string(model.PhaseGeneration))

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return base, nil
	}
	zap.L().Info("generate: brief written",
		zap.String("session_id", sess.ID),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return &Report{
		Title:        base.Title,
		Markdown:     text,
		Model:        g.model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		GeneratedAt:  base.GeneratedAt,
	}, nil
}

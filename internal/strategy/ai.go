package strategy

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/pkg/anthropic"
	"github.com/sells-group/research-pipeline/pkg/jina"
)

const (
	defaultAIModel   = "claude-haiku-4-5-20251001"
	maxAIInputChars  = 24000
	aiMaxTokens      = 1024
	aiExtractSummary = "summary"
)

const aiSystemPrompt = `You extract company facts from a web page rendered as markdown.
Respond with one JSON object and nothing else:
{"title": string, "summary": string, "emails": [string], "phones": [string],
 "socialLinks": [string], "people": [string], "products": [string], "services": [string]}
Use empty arrays when a category is absent. Never invent values.`

// AI reads a page through the Jina reader and asks a model to extract
// structured facts. It is slow and costs tokens, so it only wins auto
// selection when nothing else claims the URL.
type AI struct {
	reader jina.Client
	llm    anthropic.Client
	model  string
}

// NewAI returns the ai strategy. An empty model selects the default.
func NewAI(reader jina.Client, llm anthropic.Client, model string) *AI {
	if model == "" {
		model = defaultAIModel
	}
	return &AI{reader: reader, llm: llm, model: model}
}

func (a *AI) Name() string { return "ai" }

func (a *AI) Detect(rawURL string) float64 {
	if a.reader == nil || a.llm == nil {
		return 0
	}
	return 0.2
}

func (a *AI) Execute(ctx context.Context, req Request) (*model.ScrapingResult, error) {
	start := time.Now()
	read, err := a.reader.Read(ctx, req.URL)
	if err != nil {
		return nil, eris.Wrap(err, "ai: read")
	}
	content := clip(read.Data.Content, maxAIInputChars)
	if content == "" {
		return nil, eris.Errorf("ai: empty content for %s", req.URL)
	}

	resp, err := a.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: aiMaxTokens,
		System: []anthropic.SystemBlock{{
			Text:         aiSystemPrompt,
			CacheControl: &anthropic.CacheControl{TTL: "5m"},
		}},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: "URL: " + req.URL + "\n\n" + content,
		}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "ai: extract")
	}
	resp.Usage.LogCost(a.model, "ai_strategy")

	raw := anthropic.ExtractJSON(resp.Text())
	if !gjson.Valid(raw) {
		return nil, eris.Errorf("ai: model returned no json for %s", req.URL)
	}
	doc := gjson.Parse(raw)

	page := model.PageRecord{
		URL:        req.URL,
		Title:      doc.Get("title").String(),
		Fields:     map[string]any{"source": "ai"},
		StatusCode: 200,
		FetchedAt:  time.Now().UTC(),
	}
	if page.Title == "" {
		page.Title = read.Data.Title
	}
	if s := doc.Get(aiExtractSummary).String(); s != "" {
		page.Fields[aiExtractSummary] = s
	}

	var ex model.ExtractedData
	for _, v := range flatten(doc.Get("emails")) {
		ex.Emails = appendUnique(ex.Emails, v)
	}
	for _, v := range flatten(doc.Get("phones")) {
		ex.Phones = appendUnique(ex.Phones, normalizePhone(v))
	}
	for _, v := range flatten(doc.Get("socialLinks")) {
		if isSocial(v) {
			ex.SocialLinks = appendUnique(ex.SocialLinks, v)
		}
	}
	for _, v := range flatten(doc.Get("people")) {
		ex.People = appendUnique(ex.People, v)
	}
	for _, v := range flatten(doc.Get("products")) {
		ex.Products = appendUnique(ex.Products, v)
	}
	for _, v := range flatten(doc.Get("services")) {
		ex.Services = appendUnique(ex.Services, v)
	}
	page.Extracted = ex

	zap.L().Debug("ai: extracted page",
		zap.String("session_id", req.SessionID),
		zap.String("url", req.URL),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int("data_points", ex.Count()),
	)
	return singlePage(a.Name(), req, page, start), nil
}

// Package generate turns a session's merged dataset and external
// intelligence into a company brief.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sells-group/research-pipeline/internal/model"
)

// Generator produces the brief for a session. intel may be nil when the
// enrichment phase was not run.
type Generator interface {
	Generate(ctx context.Context, sess *model.ResearchSession, intel *model.ExternalIntelligence) (*Report, error)
}

// Report is a generated brief.
type Report struct {
	Title        string    `json:"title"`
	Markdown     string    `json:"markdown"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int64     `json:"inputTokens,omitempty"`
	OutputTokens int64     `json:"outputTokens,omitempty"`
	GeneratedAt  time.Time `json:"generatedAt"`
}

// Summary flattens r for a phase result.
func (r *Report) Summary() map[string]any {
	out := map[string]any{
		"title":    r.Title,
		"markdown": r.Markdown,
	}
	if r.Model != "" {
		out["model"] = r.Model
		out["inputTokens"] = r.InputTokens
		out["outputTokens"] = r.OutputTokens
	}
	return out
}

// Outline renders the brief without a model call.
type Outline struct {
	now func() time.Time
}

// NewOutline returns the model-free generator.
func NewOutline() *Outline {
	return &Outline{now: func() time.Time { return time.Now().UTC() }}
}

func (o *Outline) Generate(_ context.Context, sess *model.ResearchSession, intel *model.ExternalIntelligence) (*Report, error) {
	if sess == nil {
		return nil, model.Validationf("session is required")
	}
	return &Report{
		Title:       title(sess),
		Markdown:    FormatOutline(sess, intel),
		GeneratedAt: o.now(),
	}, nil
}

func title(sess *model.ResearchSession) string {
	name := sess.CompanyName
	if name == "" {
		name = sess.Domain
	}
	return "Company Brief: " + name
}

// FormatOutline renders the collected facts as markdown.
func FormatOutline(sess *model.ResearchSession, intel *model.ExternalIntelligence) string {
	var b strings.Builder
	m := sess.MergedData

	fmt.Fprintf(&b, "# %s\n", title(sess))
	fmt.Fprintf(&b, "Domain: %s\n\n", sess.Domain)

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Pages analyzed: %d\n", m.Stats.TotalPages)
	fmt.Fprintf(&b, "- Data points: %d\n", m.Stats.DataPoints)
	if intel != nil {
		fmt.Fprintf(&b, "- Intelligence completeness: %.1f%%\n", intel.Summary.Completeness)
		fmt.Fprintf(&b, "- Classification: %s\n", intel.Summary.Classification)
	}
	b.WriteString("\n")

	section(&b, "Technologies", m.Stats.UniqueTechnologies)
	section(&b, "Services", m.Extracted.Services)
	section(&b, "Products", m.Extracted.Products)
	section(&b, "People", m.Extracted.People)

	var contact []string
	contact = append(contact, m.Extracted.Emails...)
	contact = append(contact, m.Extracted.Phones...)
	section(&b, "Contact", contact)
	section(&b, "Social", m.Extracted.SocialLinks)

	if intel != nil {
		b.WriteString("## External Intelligence\n")
		for _, cat := range model.AllCategories() {
			rec, ok := intel.Records[cat]
			switch {
			case !ok:
				fmt.Fprintf(&b, "- %s: not run\n", cat)
			case rec.Skipped:
				fmt.Fprintf(&b, "- %s: skipped\n", cat)
			case rec.Present:
				fmt.Fprintf(&b, "- %s: %s\n", cat, compact(rec.Payload))
			case rec.Error != "":
				fmt.Fprintf(&b, "- %s: unavailable\n", cat)
			default:
				fmt.Fprintf(&b, "- %s: nothing found\n", cat)
			}
		}
		b.WriteString("\n")
	}

	if len(sess.PhaseResults) > 0 {
		b.WriteString("## Phases\n")
		for _, p := range model.AllPhases() {
			r, ok := sess.PhaseResults[p]
			if !ok {
				continue
			}
			status := "ok"
			if !r.Success {
				status = "failed"
			}
			fmt.Fprintf(&b, "- %s: %s (%dms, %d errors)\n", p, status, r.DurationMs, len(r.Errors))
		}
	}
	return b.String()
}

// maxSectionItems caps each list so the outline stays readable.
const maxSectionItems = 15

func section(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	items = slices.Clone(items)
	slices.Sort(items)
	fmt.Fprintf(b, "## %s\n", heading)
	for i, it := range items {
		if i == maxSectionItems {
			fmt.Fprintf(b, "- ... and %d more\n", len(items)-maxSectionItems)
			break
		}
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}

// compact re-encodes a payload on one line and truncates it.
func compact(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	out, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	const n = 300
	if len(out) > n {
		return string(out[:n]) + "..."
	}
	return string(out)
}

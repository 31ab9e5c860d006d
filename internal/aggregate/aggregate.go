// Package aggregate merges scrape results into a session's dataset. Merging
// is pure and idempotent: replaying the same pages changes nothing.
package aggregate

import (
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/sells-group/research-pipeline/internal/model"
)

// Aggregate returns existing with pages merged in under phaseTag. existing is
// not modified. Pages whose URL cannot be canonicalized are skipped.
func Aggregate(existing model.MergedDataset, pages []model.PageRecord, phaseTag string) model.MergedDataset {
	out := existing.Clone()
	if out.Pages == nil {
		out.Pages = make(map[string]model.PageRecord)
	}
	if out.Stats.PhaseCounts == nil {
		out.Stats.PhaseCounts = make(map[string]int)
	}
	if out.PhaseURLs == nil {
		out.PhaseURLs = make(map[string][]string)
	}

	for _, p := range pages {
		raw := p.CanonicalURL
		if raw == "" {
			raw = p.URL
		}
		key, err := CanonicalURL(raw)
		if err != nil {
			continue
		}

		incoming := p.Clone()
		incoming.CanonicalURL = key
		incoming.PhaseTag = phaseTag

		if cur, ok := out.Pages[key]; ok {
			out.Pages[key] = mergePage(cur, incoming)
		} else {
			incoming.Technologies = uniqueSorted(incoming.Technologies)
			incoming.Extracted = dedupeExtracted(incoming.Extracted)
			out.Pages[key] = incoming
			out.Stats.TotalPages++
		}

		if phaseTag != "" && !slices.Contains(out.PhaseURLs[phaseTag], key) {
			out.PhaseURLs[phaseTag] = append(out.PhaseURLs[phaseTag], key)
		}
	}

	for tag, urls := range out.PhaseURLs {
		out.Stats.PhaseCounts[tag] = len(urls)
	}

	var techs []string
	extracted := out.Extracted
	for _, key := range slices.Sorted(maps.Keys(out.Pages)) {
		pg := out.Pages[key]
		techs = append(techs, pg.Technologies...)
		extracted = unionExtracted(extracted, pg.Extracted)
	}
	out.Stats.UniqueTechnologies = uniqueSorted(techs)
	out.Extracted = dedupeExtracted(extracted)
	out.Stats.DataPoints = out.Extracted.Count()
	return out
}

// mergePage folds incoming into cur. Incoming values win on overlapping
// fields; everything else is unioned.
func mergePage(cur, incoming model.PageRecord) model.PageRecord {
	merged := cur.Clone()
	if merged.Fields == nil && len(incoming.Fields) > 0 {
		merged.Fields = make(map[string]any, len(incoming.Fields))
	}
	maps.Copy(merged.Fields, incoming.Fields)

	if incoming.Title != "" {
		merged.Title = incoming.Title
	}
	if incoming.URL != "" {
		merged.URL = incoming.URL
	}
	if incoming.StatusCode != 0 {
		merged.StatusCode = incoming.StatusCode
	}
	if incoming.FetchedAt.After(merged.FetchedAt) {
		merged.FetchedAt = incoming.FetchedAt
	}
	merged.PhaseTag = incoming.PhaseTag
	merged.Technologies = uniqueSorted(append(merged.Technologies, incoming.Technologies...))
	merged.Extracted = dedupeExtracted(unionExtracted(merged.Extracted, incoming.Extracted))
	return merged
}

func unionExtracted(a, b model.ExtractedData) model.ExtractedData {
	return model.ExtractedData{
		Emails:      append(slices.Clone(a.Emails), b.Emails...),
		Phones:      append(slices.Clone(a.Phones), b.Phones...),
		SocialLinks: append(slices.Clone(a.SocialLinks), b.SocialLinks...),
		People:      append(slices.Clone(a.People), b.People...),
		Products:    append(slices.Clone(a.Products), b.Products...),
		Services:    append(slices.Clone(a.Services), b.Services...),
	}
}

var nonDigits = regexp.MustCompile(`\D`)

func dedupeExtracted(e model.ExtractedData) model.ExtractedData {
	return model.ExtractedData{
		Emails:      dedupe(e.Emails, strings.ToLower),
		Phones:      dedupe(e.Phones, func(s string) string { return nonDigits.ReplaceAllString(s, "") }),
		SocialLinks: dedupe(e.SocialLinks, socialKey),
		People:      dedupe(e.People, foldKey),
		Products:    dedupe(e.Products, foldKey),
		Services:    dedupe(e.Services, foldKey),
	}
}

// dedupe keeps the first value for each key, preserving order.
func dedupe(values []string, key func(string) string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		k := key(v)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

func foldKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func socialKey(s string) string {
	if c, err := CanonicalURL(s); err == nil {
		return c
	}
	return foldKey(s)
}

func uniqueSorted(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-pipeline/internal/aggregate"
	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/pkg/anthropic"
	"github.com/sells-group/research-pipeline/pkg/edgar"
	"github.com/sells-group/research-pipeline/pkg/jina"
	"github.com/sells-group/research-pipeline/pkg/perplexity"
)

// Professional is the professional-network profile found by the pre-check.
type Professional struct {
	CompanyName   string `json:"company_name"`
	Description   string `json:"description"`
	Industry      string `json:"industry"`
	EmployeeCount string `json:"employee_count"`
	Headquarters  string `json:"headquarters"`
	Founded       string `json:"founded"`
	LinkedInURL   string `json:"linkedin_url"`
	CompanyType   string `json:"company_type"`
	Ticker        string `json:"ticker"`
	// Sources are the pages the answer was grounded on.
	Sources []string `json:"sources,omitempty"`
}

// Classification derives public/private from the profile.
func (p *Professional) Classification() model.CompanyClassification {
	if p == nil {
		return model.ClassificationUnknown
	}
	t := strings.ToLower(p.CompanyType)
	switch {
	case p.Ticker != "" || strings.Contains(t, "public"):
		return model.ClassificationPublic
	case strings.Contains(t, "private") || strings.Contains(t, "partnership") ||
		strings.Contains(t, "self-employed") || strings.Contains(t, "sole proprietor"):
		return model.ClassificationPrivate
	}
	return model.ClassificationUnknown
}

func (p *Professional) present() bool {
	return p != nil && (p.LinkedInURL != "" || p.Industry != "" || p.Description != "")
}

const professionalPrompt = `Find the LinkedIn company profile for "%s" (%s).
Return one JSON object with these fields and nothing else:
- company_name: string
- description: string
- industry: string
- employee_count: string (e.g. "51-200" or "1000+")
- headquarters: string
- founded: string (year)
- linkedin_url: string
- company_type: string (e.g. "Privately Held", "Public Company")
- ticker: string (stock ticker if publicly traded, else empty)
If a field cannot be determined, use an empty string.`

func (o *Orchestrator) professional(ctx context.Context, company, domain string) (*Professional, error) {
	temp := 0.1
	resp, err := o.src.Perplexity.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "user", Content: fmt.Sprintf(professionalPrompt, company, domain)},
		},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrap(err, "professional: perplexity")
	}
	raw := anthropic.ExtractJSON(resp.Content())
	if raw == "" {
		return nil, eris.New("professional: no json in response")
	}
	var p Professional
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, eris.Wrap(err, "professional: decode")
	}
	p.Sources = resp.Citations
	return &p, nil
}

// Financial is the SEC filing profile of a public registrant.
type Financial struct {
	Company *edgar.Company `json:"company"`
	Profile *edgar.Profile `json:"profile"`
}

func (o *Orchestrator) financial(ctx context.Context, company string) (*Financial, error) {
	match, err := o.src.EDGAR.LookupCompany(ctx, company)
	if err != nil {
		return nil, eris.Wrap(err, "financial: lookup")
	}
	if match == nil {
		return nil, nil
	}
	profile, err := o.src.EDGAR.Profile(ctx, match.CIK)
	if err != nil {
		return nil, eris.Wrap(err, "financial: profile")
	}
	return &Financial{Company: match, Profile: profile}, nil
}

// Social holds social profile links keyed by network.
type Social struct {
	Profiles map[string]string `json:"profiles"`
}

var socialNetworks = map[string]string{
	"linkedin.com":  "linkedin",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"facebook.com":  "facebook",
	"instagram.com": "instagram",
	"youtube.com":   "youtube",
	"tiktok.com":    "tiktok",
}

func (o *Orchestrator) social(ctx context.Context, company, domain string) (*Social, error) {
	query := fmt.Sprintf(`"%s" %s linkedin twitter facebook instagram`, company, domain)
	resp, err := o.src.Jina.Search(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "social: search")
	}
	out := &Social{Profiles: make(map[string]string)}
	out.add(resp.Data)

	if _, ok := out.Profiles["linkedin"]; !ok {
		resp, err := o.src.Jina.Search(ctx, fmt.Sprintf(`"%s" company page`, company), jina.WithSiteFilter("linkedin.com"))
		if err != nil {
			return nil, eris.Wrap(err, "social: linkedin search")
		}
		out.add(resp.Data)
	}
	if len(out.Profiles) == 0 {
		return nil, nil
	}
	return out, nil
}

// add records the first profile seen per network.
func (s *Social) add(results []jina.SearchResult) {
	for _, r := range results {
		network := networkOf(r.URL)
		if network == "" {
			continue
		}
		if _, seen := s.Profiles[network]; !seen {
			s.Profiles[network] = r.URL
		}
	}
}

func networkOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for suffix, name := range socialNetworks {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return name
		}
	}
	return ""
}

// LocalBusiness is the best matching Google Places listing.
type LocalBusiness struct {
	PlaceID          string   `json:"placeId"`
	Name             string   `json:"name"`
	Address          string   `json:"address,omitempty"`
	Phone            string   `json:"phone,omitempty"`
	Website          string   `json:"website,omitempty"`
	Rating           float64  `json:"rating"`
	ReviewCount      int      `json:"reviewCount"`
	BusinessStatus   string   `json:"businessStatus,omitempty"`
	Types            []string `json:"types,omitempty"`
	WebsiteConfirmed bool     `json:"websiteConfirmed"`
}

func (o *Orchestrator) localBusiness(ctx context.Context, company, domain string) (*LocalBusiness, error) {
	resp, err := o.src.Places.TextSearch(ctx, company)
	if err != nil {
		return nil, eris.Wrap(err, "local_business: text search")
	}
	if len(resp.Places) == 0 {
		return nil, nil
	}

	best := resp.Places[0]
	confirmed := false
	for _, p := range resp.Places {
		if p.WebsiteURI != "" && sameSite(aggregate.HostOf(p.WebsiteURI), domain) {
			best, confirmed = p, true
			break
		}
	}
	return &LocalBusiness{
		PlaceID:          best.ID,
		Name:             best.DisplayName.Text,
		Address:          best.FormattedAddress,
		Phone:            best.NationalPhoneNumber,
		Website:          best.WebsiteURI,
		Rating:           best.Rating,
		ReviewCount:      best.UserRatingCount,
		BusinessStatus:   best.BusinessStatus,
		Types:            best.Types,
		WebsiteConfirmed: confirmed,
	}, nil
}

// News is recent coverage of the company from other sites, with
// regulatory and legal items kept apart.
type News struct {
	Articles   []Article `json:"articles"`
	Regulatory []Article `json:"regulatory,omitempty"`
}

// Article is one news search hit.
type Article struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Summary string `json:"summary,omitempty"`
	Date    string `json:"date,omitempty"`
}

const maxNewsArticles = 10

func (o *Orchestrator) news(ctx context.Context, company, domain string) (*News, error) {
	resp, err := o.src.Jina.Search(ctx, fmt.Sprintf(`"%s" news`, company))
	if err != nil {
		return nil, eris.Wrap(err, "news: search")
	}
	reg, err := o.src.Jina.Search(ctx, fmt.Sprintf(`"%s" regulatory lawsuit recall news`, company))
	if err != nil {
		return nil, eris.Wrap(err, "news: regulatory search")
	}

	// A hit returned by both queries is filed as regulatory.
	seen := make(map[string]bool)
	out := &News{Regulatory: articles(reg.Data, domain, seen)}
	out.Articles = articles(resp.Data, domain, seen)
	if len(out.Articles) == 0 && len(out.Regulatory) == 0 {
		return nil, nil
	}
	return out, nil
}

// articles keeps off-site, non-social hits not already in seen.
func articles(results []jina.SearchResult, domain string, seen map[string]bool) []Article {
	var out []Article
	for _, r := range results {
		if r.URL == "" || seen[r.URL] || sameSite(aggregate.HostOf(r.URL), domain) || networkOf(r.URL) != "" {
			continue
		}
		seen[r.URL] = true
		out = append(out, Article{
			Title:   r.Title,
			URL:     r.URL,
			Summary: r.Description,
			Date:    r.Date,
		})
		if len(out) == maxNewsArticles {
			break
		}
	}
	return out
}

// sameSite compares hosts ignoring a leading www.
func sameSite(host, domain string) bool {
	h := strings.TrimPrefix(strings.ToLower(host), "www.")
	d := strings.TrimPrefix(strings.ToLower(domain), "www.")
	return h != "" && (h == d || strings.HasSuffix(h, "."+d))
}

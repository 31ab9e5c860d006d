package strategy

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/research-pipeline/internal/fetcher"
	"github.com/sells-group/research-pipeline/internal/model"
)

// API reads JSON endpoints such as WordPress REST routes or public data
// feeds. Known contact and catalog paths are mapped onto extracted data and
// the remaining top-level scalars are kept as fields.
type API struct {
	fetch fetcher.Fetcher
}

// NewAPI returns the api strategy.
func NewAPI(f fetcher.Fetcher) *API {
	return &API{fetch: f}
}

func (a *API) Name() string { return "api" }

func (a *API) Detect(rawURL string) float64 {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return 0
	}
	p := strings.ToLower(u.Path)
	switch {
	case strings.Contains(p, "/wp-json/"), strings.Contains(p, "/api/"), strings.HasSuffix(p, ".json"):
		return 0.9
	case strings.Contains(strings.ToLower(u.RawQuery), "format=json"):
		return 0.7
	}
	return 0.05
}

// apiPaths are gjson paths probed for each extracted category. Paths that
// start with # iterate arrays at the document root.
var apiPaths = map[string][]string{
	"emails":   {"email", "contact.email", "#.email", "data.#.email"},
	"phones":   {"phone", "telephone", "contact.phone", "#.phone", "data.#.phone"},
	"people":   {"#.author_name", "team.#.name", "people.#.name", "employees.#.name"},
	"products": {"products.#.name", "products.#.title", "data.products.#.name"},
	"services": {"services.#.name", "services.#.title"},
}

func (a *API) Execute(ctx context.Context, req Request) (*model.ScrapingResult, error) {
	start := time.Now()
	resp, err := a.fetch.Fetch(ctx, req.URL, fetcher.WithAccept("application/json"))
	if err != nil {
		return nil, eris.Wrap(err, "api: fetch")
	}
	if !gjson.ValidBytes(resp.Body) {
		return nil, eris.Errorf("api: %s did not return json", req.URL)
	}

	doc := gjson.ParseBytes(resp.Body)
	page := model.PageRecord{
		URL:        req.URL,
		Title:      firstString(doc, "name", "title.rendered", "title", "#.title.rendered|0"),
		Fields:     make(map[string]any),
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now().UTC(),
	}

	var ex model.ExtractedData
	for cat, paths := range apiPaths {
		for _, p := range paths {
			for _, v := range flatten(doc.Get(p)) {
				switch cat {
				case "emails":
					ex.Emails = appendUnique(ex.Emails, strings.ToLower(v))
				case "phones":
					ex.Phones = appendUnique(ex.Phones, normalizePhone(v))
				case "people":
					ex.People = appendUnique(ex.People, v)
				case "products":
					ex.Products = appendUnique(ex.Products, v)
				case "services":
					ex.Services = appendUnique(ex.Services, v)
				}
			}
		}
	}
	for _, v := range flatten(doc.Get("sameAs")) {
		if isSocial(v) {
			ex.SocialLinks = appendUnique(ex.SocialLinks, v)
		}
	}
	page.Extracted = ex

	if doc.IsObject() {
		doc.ForEach(func(k, v gjson.Result) bool {
			switch v.Type {
			case gjson.String:
				page.Fields[k.String()] = v.String()
			case gjson.Number:
				page.Fields[k.String()] = v.Float()
			case gjson.True, gjson.False:
				page.Fields[k.String()] = v.Bool()
			}
			return true
		})
	} else if doc.IsArray() {
		page.Fields["items"] = len(doc.Array())
	}
	return singlePage(a.Name(), req, page, start), nil
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func flatten(r gjson.Result) []string {
	if !r.Exists() {
		return nil
	}
	if !r.IsArray() {
		if s := r.String(); s != "" && r.Type == gjson.String {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, v := range r.Array() {
		out = append(out, flatten(v)...)
	}
	return out
}

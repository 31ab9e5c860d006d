package strategy

import (
	"bytes"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/research-pipeline/internal/model"
)

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}`)
)

// socialHosts maps a host suffix to the network it belongs to.
var socialHosts = []string{
	"linkedin.com",
	"twitter.com",
	"x.com",
	"facebook.com",
	"instagram.com",
	"youtube.com",
	"github.com",
	"tiktok.com",
}

// techSignature is a substring of the raw HTML that identifies a technology.
type techSignature struct {
	name    string
	markers []string
}

var techSignatures = []techSignature{
	{"WordPress", []string{"wp-content/", "wp-includes/"}},
	{"Shopify", []string{"cdn.shopify.com", "shopify.theme"}},
	{"Next.js", []string{"__next_data__", "/_next/static"}},
	{"React", []string{"data-reactroot", "react-dom"}},
	{"Vue.js", []string{"data-v-app", "vue.runtime", "__vue__"}},
	{"Angular", []string{"ng-version=", "ng-app"}},
	{"jQuery", []string{"jquery.min.js", "jquery.js"}},
	{"Bootstrap", []string{"bootstrap.min.css", "bootstrap.min.js"}},
	{"Google Analytics", []string{"google-analytics.com/analytics.js", "gtag/js?id="}},
	{"Google Tag Manager", []string{"googletagmanager.com/gtm.js"}},
	{"HubSpot", []string{"js.hs-scripts.com", "hs-analytics"}},
	{"Wix", []string{"static.wixstatic.com", "wix-code"}},
	{"Squarespace", []string{"static1.squarespace.com"}},
	{"Drupal", []string{"drupal.settings", "/sites/default/files"}},
}

// Extract parses an HTML document into a page record. pageURL resolves
// relative links; header supplies server technology hints and may be nil.
func Extract(pageURL string, body []byte, header http.Header) (model.PageRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.PageRecord{}, eris.Wrapf(err, "parse html %s", pageURL)
	}
	base, _ := url.Parse(pageURL)

	rec := model.PageRecord{
		URL:    pageURL,
		Title:  pageTitle(doc),
		Fields: make(map[string]any),
	}

	if v := metaContent(doc, `meta[name="description"]`); v != "" {
		rec.Fields["description"] = v
	}
	if v := metaContent(doc, `meta[name="keywords"]`); v != "" {
		rec.Fields["keywords"] = splitList(v)
	}
	if v, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok && strings.TrimSpace(v) != "" {
		rec.Fields["canonical"] = resolve(base, v)
	}
	if v, ok := doc.Find("html").First().Attr("lang"); ok && v != "" {
		rec.Fields["lang"] = strings.ToLower(v)
	}

	var ex model.ExtractedData
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		switch {
		case strings.HasPrefix(strings.ToLower(href), "mailto:"):
			addr := strings.SplitN(href[len("mailto:"):], "?", 2)[0]
			ex.Emails = appendUnique(ex.Emails, strings.ToLower(addr))
		case strings.HasPrefix(strings.ToLower(href), "tel:"):
			ex.Phones = appendUnique(ex.Phones, normalizePhone(href[len("tel:"):]))
		default:
			if link := resolve(base, href); isSocial(link) {
				ex.SocialLinks = appendUnique(ex.SocialLinks, link)
			}
		}
	})

	extractStructured(doc, &ex)

	// Visible text catches addresses and numbers that are not linked.
	doc.Find("script, style, noscript").Remove()
	text := doc.Find("body").Text()
	for _, m := range emailRe.FindAllString(text, -1) {
		ex.Emails = appendUnique(ex.Emails, strings.ToLower(m))
	}
	for _, m := range phoneRe.FindAllString(text, -1) {
		ex.Phones = appendUnique(ex.Phones, normalizePhone(m))
	}

	extractMicrodata(doc, &ex)
	extractServiceSections(doc, &ex)

	rec.Extracted = ex
	rec.Technologies = detectTechnologies(body, header)
	return rec, nil
}

func pageTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := metaContent(doc, `meta[property="og:title"]`); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func metaContent(doc *goquery.Document, sel string) string {
	v, _ := doc.Find(sel).First().Attr("content")
	return strings.TrimSpace(v)
}

// extractStructured reads schema.org JSON-LD blocks. Documents may be a
// single object, an array, or an object with an @graph array.
func extractStructured(doc *goquery.Document, ex *model.ExtractedData) {
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if !gjson.Valid(raw) {
			return
		}
		root := gjson.Parse(raw)
		var nodes []gjson.Result
		switch {
		case root.IsArray():
			nodes = root.Array()
		case root.Get("@graph").IsArray():
			nodes = root.Get("@graph").Array()
		default:
			nodes = []gjson.Result{root}
		}
		for _, n := range nodes {
			structuredNode(n, ex)
		}
	})
}

func structuredNode(n gjson.Result, ex *model.ExtractedData) {
	switch schemaType(n) {
	case "person":
		ex.People = appendUnique(ex.People, n.Get("name").String())
	case "product":
		ex.Products = appendUnique(ex.Products, n.Get("name").String())
	case "service":
		ex.Services = appendUnique(ex.Services, n.Get("name").String())
	case "organization", "corporation", "localbusiness":
		if e := n.Get("email").String(); e != "" {
			ex.Emails = appendUnique(ex.Emails, strings.ToLower(strings.TrimPrefix(e, "mailto:")))
		}
		if p := n.Get("telephone").String(); p != "" {
			ex.Phones = appendUnique(ex.Phones, normalizePhone(p))
		}
		for _, s := range n.Get("sameAs").Array() {
			if isSocial(s.String()) {
				ex.SocialLinks = appendUnique(ex.SocialLinks, s.String())
			}
		}
		for _, p := range n.Get("founder").Array() {
			ex.People = appendUnique(ex.People, p.Get("name").String())
		}
		for _, p := range n.Get("employee").Array() {
			ex.People = appendUnique(ex.People, p.Get("name").String())
		}
		for _, o := range n.Get("makesOffer").Array() {
			structuredNode(o.Get("itemOffered"), ex)
		}
	}
}

func schemaType(n gjson.Result) string {
	t := n.Get("@type")
	if t.IsArray() && len(t.Array()) > 0 {
		t = t.Array()[0]
	}
	return strings.ToLower(t.String())
}

// extractMicrodata reads schema.org itemscope/itemprop markup.
func extractMicrodata(doc *goquery.Document, ex *model.ExtractedData) {
	doc.Find("[itemscope][itemtype]").Each(func(_ int, s *goquery.Selection) {
		typ, _ := s.Attr("itemtype")
		name := strings.TrimSpace(s.Find(`[itemprop="name"]`).First().Text())
		if name == "" {
			return
		}
		switch {
		case strings.HasSuffix(typ, "/Person"):
			ex.People = appendUnique(ex.People, name)
		case strings.HasSuffix(typ, "/Product"):
			ex.Products = appendUnique(ex.Products, name)
		case strings.HasSuffix(typ, "/Service"):
			ex.Services = appendUnique(ex.Services, name)
		}
	})
}

// extractServiceSections picks list items under headings that name
// services or products.
func extractServiceSections(doc *goquery.Document, ex *model.ExtractedData) {
	doc.Find("h2, h3").Each(func(_ int, h *goquery.Selection) {
		heading := strings.ToLower(strings.TrimSpace(h.Text()))
		var target *[]string
		switch {
		case strings.Contains(heading, "services") || strings.Contains(heading, "what we do"):
			target = &ex.Services
		case strings.Contains(heading, "products"):
			target = &ex.Products
		default:
			return
		}
		h.NextUntil("h2, h3").Find("li").Each(func(_ int, li *goquery.Selection) {
			item := strings.Join(strings.Fields(li.Text()), " ")
			if item != "" && len(item) <= 120 {
				*target = appendUnique(*target, item)
			}
		})
	})
}

func detectTechnologies(body []byte, header http.Header) []string {
	lower := strings.ToLower(string(body))
	var out []string
	for _, sig := range techSignatures {
		for _, m := range sig.markers {
			if strings.Contains(lower, m) {
				out = append(out, sig.name)
				break
			}
		}
	}
	if header != nil {
		if s := header.Get("Server"); s != "" {
			out = appendUnique(out, serverName(s))
		}
		if s := header.Get("X-Powered-By"); s != "" {
			out = appendUnique(out, serverName(s))
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// serverName drops the version from a Server header value.
func serverName(v string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(v), "/")
	return strings.TrimSpace(name)
}

func isSocial(link string) bool {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	for _, s := range socialHosts {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func normalizePhone(p string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(p) {
		if (r >= '0' && r <= '9') || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" || slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

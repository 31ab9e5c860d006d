// Package edgar looks up public-company filings on SEC EDGAR.
//
// Responses are read with gjson rather than decoded into full structs: the
// submissions document is large and only a handful of paths are needed.
package edgar

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/research-pipeline/internal/fetcher"
)

const (
	defaultTickersURL = "https://www.sec.gov/files/company_tickers.json"
	defaultDataURL    = "https://data.sec.gov"
	tickersTTL        = 24 * time.Hour
	maxRecentFilings  = 20
)

// Client performs EDGAR lookups.
type Client interface {
	// LookupCompany matches name against the SEC ticker list. It returns nil
	// without error when no registrant matches.
	LookupCompany(ctx context.Context, name string) (*Company, error)
	// Profile returns the registrant profile and recent filings for cik.
	Profile(ctx context.Context, cik string) (*Profile, error)
}

// Company is one row of the SEC ticker list.
type Company struct {
	CIK    string `json:"cik"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

// Profile is the subset of an EDGAR submissions document the pipeline keeps.
type Profile struct {
	CIK                  string   `json:"cik"`
	Name                 string   `json:"name"`
	EntityType           string   `json:"entityType,omitempty"`
	SIC                  string   `json:"sic,omitempty"`
	SICDescription       string   `json:"sicDescription,omitempty"`
	StateOfIncorporation string   `json:"stateOfIncorporation,omitempty"`
	FiscalYearEnd        string   `json:"fiscalYearEnd,omitempty"`
	Tickers              []string `json:"tickers,omitempty"`
	Exchanges            []string `json:"exchanges,omitempty"`
	RecentFilings        []Filing `json:"recentFilings,omitempty"`
}

// Filing is one entry from the recent filings index.
type Filing struct {
	AccessionNumber string `json:"accessionNumber"`
	Form            string `json:"form"`
	FilingDate      string `json:"filingDate"`
	PrimaryDocument string `json:"primaryDocument,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithTickersURL overrides the ticker list URL (for testing).
func WithTickersURL(url string) Option {
	return func(c *httpClient) {
		c.tickersURL = url
	}
}

// WithDataURL overrides the data.sec.gov base URL (for testing).
func WithDataURL(url string) Option {
	return func(c *httpClient) {
		c.dataURL = url
	}
}

// WithNowFunc overrides the clock used for ticker cache expiry.
func WithNowFunc(fn func() time.Time) Option {
	return func(c *httpClient) {
		c.now = fn
	}
}

type httpClient struct {
	f          fetcher.Fetcher
	userAgent  string
	tickersURL string
	dataURL    string
	now        func() time.Time

	mu       sync.Mutex
	tickers  []Company
	loadedAt time.Time
}

// NewClient returns an EDGAR client that fetches through f. SEC requires a
// descriptive User-Agent with a contact address.
func NewClient(f fetcher.Fetcher, userAgent string, opts ...Option) Client {
	c := &httpClient{
		f:          f,
		userAgent:  userAgent,
		tickersURL: defaultTickersURL,
		dataURL:    defaultDataURL,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) get(ctx context.Context, url string) ([]byte, error) {
	opts := []fetcher.RequestOption{fetcher.WithAccept("application/json")}
	if c.userAgent != "" {
		opts = append(opts, fetcher.WithHeader("User-Agent", c.userAgent))
	}
	resp, err := c.f.Fetch(ctx, url, opts...)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(resp.Body) {
		return nil, eris.Errorf("edgar: invalid json from %s", url)
	}
	return resp.Body, nil
}

func (c *httpClient) loadTickers(ctx context.Context) ([]Company, error) {
	c.mu.Lock()
	if c.tickers != nil && c.now().Sub(c.loadedAt) < tickersTTL {
		t := c.tickers
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	body, err := c.get(ctx, c.tickersURL)
	if err != nil {
		return nil, eris.Wrap(err, "edgar: load tickers")
	}

	// The document is an object keyed by row index: {"0": {...}, "1": {...}}.
	var out []Company
	gjson.ParseBytes(body).ForEach(func(_, row gjson.Result) bool {
		out = append(out, Company{
			CIK:    PadCIK(row.Get("cik_str").String()),
			Ticker: row.Get("ticker").String(),
			Title:  row.Get("title").String(),
		})
		return true
	})

	c.mu.Lock()
	c.tickers = out
	c.loadedAt = c.now()
	c.mu.Unlock()
	return out, nil
}

func (c *httpClient) LookupCompany(ctx context.Context, name string) (*Company, error) {
	want := NormalizeName(name)
	if want == "" {
		return nil, nil
	}
	tickers, err := c.loadTickers(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tickers {
		if NormalizeName(t.Title) == want {
			found := t
			return &found, nil
		}
	}
	return nil, nil
}

func (c *httpClient) Profile(ctx context.Context, cik string) (*Profile, error) {
	cik = PadCIK(cik)
	if cik == "" {
		return nil, eris.New("edgar: cik is required")
	}
	body, err := c.get(ctx, fmt.Sprintf("%s/submissions/CIK%s.json", c.dataURL, cik))
	if err != nil {
		return nil, eris.Wrapf(err, "edgar: submissions %s", cik)
	}

	doc := gjson.ParseBytes(body)
	p := &Profile{
		CIK:                  cik,
		Name:                 doc.Get("name").String(),
		EntityType:           doc.Get("entityType").String(),
		SIC:                  doc.Get("sic").String(),
		SICDescription:       doc.Get("sicDescription").String(),
		StateOfIncorporation: doc.Get("stateOfIncorporation").String(),
		FiscalYearEnd:        doc.Get("fiscalYearEnd").String(),
		Tickers:              stringSlice(doc.Get("tickers")),
		Exchanges:            stringSlice(doc.Get("exchanges")),
	}

	recent := doc.Get("filings.recent")
	accessions := recent.Get("accessionNumber").Array()
	forms := recent.Get("form").Array()
	dates := recent.Get("filingDate").Array()
	docs := recent.Get("primaryDocument").Array()
	for i := 0; i < len(accessions) && i < maxRecentFilings; i++ {
		f := Filing{AccessionNumber: accessions[i].String()}
		if i < len(forms) {
			f.Form = forms[i].String()
		}
		if i < len(dates) {
			f.FilingDate = dates[i].String()
		}
		if i < len(docs) {
			f.PrimaryDocument = docs[i].String()
		}
		p.RecentFilings = append(p.RecentFilings, f)
	}
	return p, nil
}

func stringSlice(r gjson.Result) []string {
	var out []string
	for _, v := range r.Array() {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PadCIK left-pads a numeric CIK to the ten digits EDGAR URLs use.
func PadCIK(cik string) string {
	cik = strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(cik), "CIK"))
	if cik == "" {
		return ""
	}
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

var corporateSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true,
	"co": true, "company": true, "llc": true, "ltd": true, "limited": true,
	"plc": true, "lp": true, "sa": true, "ag": true, "nv": true, "the": true,
}

// NormalizeName lowercases name, drops punctuation and corporate suffixes so
// "Apple Inc." and "apple" compare equal.
func NormalizeName(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&'
	})
	out := fields[:0]
	for _, f := range fields {
		if corporateSuffixes[f] {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

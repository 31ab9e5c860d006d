package strategy

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/internal/resilience"
)

// Rendered is a page after client-side scripts have run.
type Rendered struct {
	URL  string
	HTML string
}

// Renderer loads a URL in a browser and returns the resulting DOM.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (*Rendered, error)
	Close() error
}

// Dynamic renders JavaScript-heavy pages in a headless browser before
// extracting them.
type Dynamic struct {
	renderer Renderer
}

// NewDynamic returns the dynamic strategy backed by r.
func NewDynamic(r Renderer) *Dynamic {
	return &Dynamic{renderer: r}
}

func (d *Dynamic) Name() string { return "dynamic" }

// spaHints are URL fragments typical of client-rendered apps.
var spaHints = []string{"/#/", "/app/", "/dashboard", "/portal"}

func (d *Dynamic) Detect(rawURL string) float64 {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return 0
	}
	lower := strings.ToLower(rawURL)
	for _, h := range spaHints {
		if strings.Contains(lower, h) {
			return 0.8
		}
	}
	return 0.3
}

func (d *Dynamic) Execute(ctx context.Context, req Request) (*model.ScrapingResult, error) {
	start := time.Now()
	r, err := d.renderer.Render(ctx, req.URL)
	if err != nil {
		return nil, eris.Wrap(err, "dynamic: render")
	}
	body := []byte(r.HTML)
	page, err := Extract(r.URL, body, nil)
	if err != nil {
		return nil, err
	}
	page.URL = req.URL
	page.StatusCode = 200
	page.FetchedAt = time.Now().UTC()
	page.Fields["rendered"] = true
	addReadable(&page, r.URL, body)
	return singlePage(d.Name(), req, page, start), nil
}

// RodRenderer renders pages with a lazily launched headless Chromium.
type RodRenderer struct {
	timeout time.Duration
	bin     string

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewRodRenderer returns a renderer. bin may name a browser binary; empty
// lets the launcher find or download one.
func NewRodRenderer(bin string, timeout time.Duration) *RodRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RodRenderer{bin: bin, timeout: timeout}
}

func (r *RodRenderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().Headless(true)
	if r.bin != "" {
		l = l.Bin(r.bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, eris.Wrap(err, "rod: launch browser")
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, eris.Wrap(err, "rod: connect")
	}
	r.browser = b
	r.lnch = l
	zap.L().Info("rod: browser started", zap.String("control_url", controlURL))
	return b, nil
}

// Render opens rawURL in a fresh incognito context so pages share no
// cookies or storage.
func (r *RodRenderer) Render(ctx context.Context, rawURL string) (*Rendered, error) {
	b, err := r.connect()
	if err != nil {
		return nil, err
	}
	incognito, err := b.Incognito()
	if err != nil {
		return nil, eris.Wrap(err, "rod: incognito")
	}
	defer incognito.Close() //nolint:errcheck

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, eris.Wrap(err, "rod: new page")
	}
	defer page.Close() //nolint:errcheck

	p := page.Context(ctx).Timeout(r.timeout)
	if err := p.Navigate(rawURL); err != nil {
		return nil, eris.Wrapf(resilience.Transient(err), "rod: navigate %s", rawURL)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, eris.Wrapf(resilience.Transient(err), "rod: wait load %s", rawURL)
	}
	_ = p.WaitStable(time.Second)

	html, err := p.HTML()
	if err != nil {
		return nil, eris.Wrap(err, "rod: read html")
	}
	final := rawURL
	if info, err := p.Info(); err == nil && info.URL != "" {
		final = info.URL
	}
	return &Rendered{URL: final, HTML: html}, nil
}

// Close shuts down the browser if it was started.
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.lnch.Kill()
	r.browser, r.lnch = nil, nil
	return eris.Wrap(err, "rod: close")
}

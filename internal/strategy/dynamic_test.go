package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRenderer struct {
	html   string
	final  string
	err    error
	closed bool
}

func (f *fakeRenderer) Render(_ context.Context, rawURL string) (*Rendered, error) {
	if f.err != nil {
		return nil, f.err
	}
	u := f.final
	if u == "" {
		u = rawURL
	}
	return &Rendered{URL: u, HTML: f.html}, nil
}

func (f *fakeRenderer) Close() error {
	f.closed = true
	return nil
}

func TestDynamic_Execute(t *testing.T) {
	r := &fakeRenderer{
		html:  `<html><head><title>App</title></head><body><div id="root"><a href="mailto:hi@acme.com">hi</a><a href="/x">x</a></div></body></html>`,
		final: "https://acme.com/app/home",
	}
	d := NewDynamic(r)
	res, err := d.Execute(context.Background(), Request{URL: "https://acme.com/app"})
	require.NoError(t, err)

	page := res.Pages[0]
	assert.Equal(t, "dynamic", res.ScraperID)
	assert.Equal(t, "https://acme.com/app", page.URL)
	assert.Equal(t, "App", page.Title)
	assert.Equal(t, true, page.Fields["rendered"])
	assert.Equal(t, []string{"hi@acme.com"}, page.Extracted.Emails)
}

func TestDynamic_RenderError(t *testing.T) {
	d := NewDynamic(&fakeRenderer{err: errors.New("chrome gone")})
	_, err := d.Execute(context.Background(), Request{URL: "https://acme.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chrome gone")
}

func TestDynamic_Detect(t *testing.T) {
	d := NewDynamic(&fakeRenderer{})
	assert.Equal(t, 0.8, d.Detect("https://acme.com/#/pricing"))
	assert.Equal(t, 0.8, d.Detect("https://acme.com/app/settings"))
	assert.Equal(t, 0.3, d.Detect("https://acme.com/about"))
	assert.Zero(t, d.Detect("mailto:hi@acme.com"))
}

func TestRodRenderer_CloseWithoutStart(t *testing.T) {
	r := NewRodRenderer("", 0)
	assert.NoError(t, r.Close())
}

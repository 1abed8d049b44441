package fetch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/docstream/horosafe"
)

// connectBrowser returns the shared browser, launching a headless one or
// connecting to Config.BrowserURL on first use.
func (f *Fetcher) connectBrowser() (*rod.Browser, error) {
	f.browserMu.Lock()
	defer f.browserMu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	controlURL := f.config.BrowserURL
	var l *launcher.Launcher
	if controlURL == "" {
		l = launcher.New().
			Headless(true).
			Set("disable-gpu").
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("fetch: launch browser: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("fetch: connect browser: %w", err)
	}
	f.browser = b
	f.lnch = l
	f.config.Logger.Info("fetch: browser ready", "remote", f.config.BrowserURL != "")
	return b, nil
}

// render loads rawURL in a stealth page and returns the rendered DOM.
func (f *Fetcher) render(ctx context.Context, rawURL string) (*Result, error) {
	if err := f.config.URLValidator(rawURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlocked, err)
	}
	b, err := f.connectBrowser()
	if err != nil {
		return nil, err
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("fetch: new page: %w", err)
	}
	defer page.Close()

	p := page.Context(ctx).Timeout(f.config.Timeout)
	if err := p.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("fetch: navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("fetch: wait load: %w", err)
	}
	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("fetch: read DOM: %w", err)
	}
	if int64(len(html)) > f.config.MaxBytes {
		return nil, fmt.Errorf("fetch: rendered page: %w", horosafe.ErrTooLarge)
	}

	final := rawURL
	if info, err := p.Info(); err == nil && info.URL != "" {
		final = info.URL
	}
	body := []byte(html)
	return &Result{
		Body:        body,
		StatusCode:  http.StatusOK,
		ContentType: "text/html; charset=utf-8",
		URL:         final,
		Hash:        hashBody(body),
		Changed:     true,
	}, nil
}

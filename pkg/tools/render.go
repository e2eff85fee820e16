package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// RodRenderer renders script-heavy pages in a headless Chrome. The browser is
// launched on first use and shared until Close.
type RodRenderer struct {
	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRodRenderer creates a renderer. The page load timeout defaults to 30s.
func NewRodRenderer(timeout time.Duration, logger *zap.Logger) *RodRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodRenderer{timeout: timeout, logger: logger}
}

func (r *RodRenderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().Headless(true)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	r.logger.Debug("headless browser started", zap.String("control_url", controlURL))
	r.launcher = l
	r.browser = browser
	return browser, nil
}

// navigationStatus reads the main document status from the Navigation Timing
// API. 0 means the browser did not report one.
const navigationStatus = `() => {
	const nav = performance.getEntriesByType("navigation")[0];
	return nav && nav.responseStatus ? nav.responseStatus : 0;
}`

// Render opens url, waits for the load event and returns the page HTML and
// the HTTP status of the main document (0 when unknown).
func (r *RodRenderer) Render(ctx context.Context, url string) (string, int, error) {
	browser, err := r.connect()
	if err != nil {
		return "", 0, err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", 0, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			r.logger.Debug("failed to close page", zap.Error(cerr))
		}
	}()

	if err := page.Timeout(r.timeout).WaitLoad(); err != nil {
		return "", 0, fmt.Errorf("wait load: %w", err)
	}

	status := 0
	if res, err := page.Eval(navigationStatus); err != nil {
		r.logger.Debug("navigation status unavailable", zap.String("url", url), zap.Error(err))
	} else {
		status = res.Value.Int()
	}

	doc, err := page.HTML()
	if err != nil {
		return "", status, err
	}
	return doc, status, nil
}

// Close shuts the browser down.
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.launcher.Cleanup()
	r.browser = nil
	r.launcher = nil
	return err
}

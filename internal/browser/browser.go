package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

const (
	defaultNavTimeout = 30 * time.Second
	defaultActionTime = 5 * time.Second
)

// ErrNoPage is returned when a controller is used after Close.
var ErrNoPage = errors.New("browser: no page")

// Launcher owns playwright lifecycle.
type Launcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	logger  zerolog.Logger
}

func NewLauncher(headless bool, logger zerolog.Logger) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	logger.Debug().Bool("headless", headless).Msg("chromium launched")
	return &Launcher{pw: pw, browser: browser, logger: logger}, nil
}

// NewController opens a fresh context and page.
func (l *Launcher) NewController() (*Controller, error) {
	bctx, err := l.browser.NewContext(playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultNavTimeout.Milliseconds()))
	return &Controller{context: bctx, page: page, logger: l.logger}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

// Controller is the live document handle. Every selector method accepts
// playwright selector syntax and operates on the first match.
type Controller struct {
	context playwright.BrowserContext
	page    playwright.Page
	logger  zerolog.Logger
}

func (c *Controller) Close() error {
	if c.page != nil {
		_ = c.page.Close()
		c.page = nil
	}
	if c.context != nil {
		return c.context.Close()
	}
	return nil
}

func (c *Controller) Navigate(ctx context.Context, url string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	_, err := c.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (c *Controller) URL() string {
	if c.page == nil {
		return ""
	}
	return c.page.URL()
}

func (c *Controller) Title(ctx context.Context) string {
	if c.ready(ctx) != nil {
		return ""
	}
	title, _ := c.page.Title()
	return title
}

func (c *Controller) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	val, err := c.page.Evaluate(script, arg)
	return val, wrap(err)
}

func (c *Controller) Count(ctx context.Context, selector string) (int, error) {
	if err := c.ready(ctx); err != nil {
		return 0, err
	}
	n, err := c.page.Locator(selector).Count()
	return n, wrap(err)
}

func (c *Controller) IsVisible(ctx context.Context, selector string) (bool, error) {
	if err := c.ready(ctx); err != nil {
		return false, err
	}
	ok, err := c.page.Locator(selector).First().IsVisible()
	return ok, wrap(err)
}

func (c *Controller) IsDisabled(ctx context.Context, selector string) (bool, error) {
	if err := c.ready(ctx); err != nil {
		return false, err
	}
	ok, err := c.page.Locator(selector).First().IsDisabled(playwright.LocatorIsDisabledOptions{
		Timeout: playwright.Float(float64(defaultActionTime.Milliseconds())),
	})
	return ok, wrap(err)
}

func (c *Controller) Fill(ctx context.Context, selector, value string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	return wrap(c.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(float64(defaultActionTime.Milliseconds())),
	}))
}

func (c *Controller) Click(ctx context.Context, selector string, timeout time.Duration) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = defaultActionTime
	}
	first := c.page.Locator(selector).First()
	if err := first.ScrollIntoViewIfNeeded(); err != nil {
		c.logger.Debug().Err(err).Str("selector", selector).Msg("scroll into view")
	}
	return wrap(first.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	}))
}

func (c *Controller) PressEnter(ctx context.Context, selector string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	return wrap(c.page.Locator(selector).First().Press("Enter", playwright.LocatorPressOptions{
		Timeout: playwright.Float(float64(defaultActionTime.Milliseconds())),
	}))
}

// Wait blocks for d, returning early only if ctx is done.
func (c *Controller) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Controller) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.page == nil {
		return ErrNoPage
	}
	return nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

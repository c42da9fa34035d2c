package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"capture/internal/core/blocklist"
	"capture/internal/core/detect"
	"capture/internal/core/request"
	"capture/internal/logger"

	"github.com/playwright-community/playwright-go"
)

var (
	// ErrElementNotFound means the capture selector resolved to nothing.
	ErrElementNotFound = errors.New("capture selector matched no element")
)

const (
	navigationTimeoutMS = 30000.0
	selectorWaitMS      = 10000.0
	scriptSettleMS      = 500.0
	removalSettleMS     = 300.0
	scrollStepPX        = 100
	scrollSettleMS      = 500.0
)

// Artifact is the raw output of one browser run, before post-processing.
// Warnings record every stage that degraded instead of failing.
type Artifact struct {
	Bytes    []byte
	IsPDF    bool
	Warnings []string
}

// Driver owns one browser tab per capture. Every run acquires its own
// browser and releases it on all paths; tabs are never shared.
type Driver struct {
	log      *logger.Logger
	detector detect.Detector
}

func New(detector detect.Detector) *Driver {
	return &Driver{log: logger.New("BrowserDriver"), detector: detector}
}

// Capture runs the full page-mutation pipeline and returns the raw artifact.
// The stages run strictly in order; non-fatal stages append a warning and
// continue, fatal stages abort with the tab already scheduled for release.
func (d *Driver) Capture(ctx context.Context, req *request.CaptureRequest) (*Artifact, error) {
	art := &Artifact{}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("browser runtime start failed: %w", err)
	}
	defer d.closeQuietly("playwright", pw.Stop)

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
			"--disable-features=VizDisplayCompositor",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("browser launch failed: %w", err)
	}
	defer d.closeQuietly("browser", func() error { return browser.Close() })

	bctx, err := d.newContext(browser, req, art)
	if err != nil {
		return nil, err
	}
	defer d.closeQuietly("context", func() error { return bctx.Close() })

	if err := d.installInterception(bctx, req); err != nil {
		art.warnf("request interception unavailable: %v", err)
	}
	if req.Stealth {
		if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthJS)}); err != nil {
			art.warnf("stealth patches not installed: %v", err)
		}
	}
	d.applyCookies(bctx, req, art)

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("page creation failed: %w", err)
	}
	defer d.closeQuietly("page", func() error { return page.Close() })

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.navigate(page, req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mutatePage(ctx, page, req, art)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.capture(page, req, art); err != nil {
		return nil, err
	}
	return art, nil
}

// newContext resolves viewport, identity and emulation into context options.
// Emulation overrides are non-fatal: if the context refuses them, the run
// falls back to default emulation with a warning.
func (d *Driver) newContext(browser playwright.Browser, req *request.CaptureRequest, art *Artifact) (playwright.BrowserContext, error) {
	vp := req.ResolveViewport()

	opts := playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: vp.Width, Height: vp.Height},
		DeviceScaleFactor: playwright.Float(vp.Scale),
		IsMobile:          playwright.Bool(vp.Mobile),
		HasTouch:          playwright.Bool(vp.Touch),
	}

	// User agent precedence: explicit override > stealth default > device
	// convention > browser default.
	switch {
	case req.UserAgent != "":
		opts.UserAgent = playwright.String(req.UserAgent)
	case req.Stealth:
		opts.UserAgent = playwright.String(stealthUA)
	case vp.UserAgent != "":
		opts.UserAgent = playwright.String(vp.UserAgent)
	}

	if len(req.Headers) > 0 {
		opts.ExtraHttpHeaders = req.Headers
	}

	withEmulation := opts
	if req.Timezone != "" {
		withEmulation.TimezoneId = playwright.String(req.Timezone)
	}
	if req.Geolocation != nil {
		withEmulation.Geolocation = &playwright.Geolocation{
			Latitude:  req.Geolocation.Latitude,
			Longitude: req.Geolocation.Longitude,
		}
		withEmulation.Permissions = []string{"geolocation"}
	}
	if req.DarkMode {
		withEmulation.ColorScheme = playwright.ColorSchemeDark
	}

	bctx, err := browser.NewContext(withEmulation)
	if err == nil {
		return bctx, nil
	}
	art.warnf("emulation overrides rejected, using defaults: %v", err)

	bctx, err = browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("browser context creation failed: %w", err)
	}
	return bctx, nil
}

// installInterception aborts blocklisted ad domains (per-request flag),
// globally blocked resource types, and fonts for viewport captures.
func (d *Driver) installInterception(bctx playwright.BrowserContext, req *request.CaptureRequest) error {
	return bctx.Route("**/*", func(route playwright.Route) {
		reqURL := route.Request().URL()
		resourceType := route.Request().ResourceType()

		if blocklist.IsBlockedResourceType(resourceType) {
			_ = route.Abort("blockedbyclient")
			return
		}
		if blocklist.BlockFont(resourceType, req.FullPage) {
			_ = route.Abort("blockedbyclient")
			return
		}
		if req.BlockAds && blocklist.IsBlockedDomain(reqURL) {
			_ = route.Abort("blockedbyclient")
			return
		}
		_ = route.Continue()
	})
}

// applyCookies defaults domain to the target host, path to "/", and secure to
// the target scheme, matching what a browser visiting the URL would store.
func (d *Driver) applyCookies(bctx playwright.BrowserContext, req *request.CaptureRequest, art *Artifact) {
	if len(req.Cookies) == 0 {
		return
	}
	target, err := url.Parse(req.URL)
	if err != nil {
		art.warnf("cookies skipped, target URL unparseable: %v", err)
		return
	}
	secure := target.Scheme == "https"

	cookies := make([]playwright.OptionalCookie, 0, len(req.Cookies))
	for _, c := range req.Cookies {
		domain := c.Domain
		if domain == "" {
			domain = target.Hostname()
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		cookies = append(cookies, playwright.OptionalCookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: playwright.String(domain),
			Path:   playwright.String(path),
			Secure: playwright.Bool(secure),
		})
	}
	if err := bctx.AddCookies(cookies); err != nil {
		art.warnf("cookies not applied: %v", err)
	}
}

func (d *Driver) navigate(page playwright.Page, req *request.CaptureRequest) error {
	waitUntil := playwright.WaitUntilStateDomcontentloaded
	if req.WaitUntil == "networkidle" {
		waitUntil = playwright.WaitUntilStateNetworkidle
	}
	if _, err := page.Goto(req.URL, playwright.PageGotoOptions{
		WaitUntil: waitUntil,
		Timeout:   playwright.Float(navigationTimeoutMS),
	}); err != nil {
		if strings.Contains(err.Error(), "imeout") {
			return fmt.Errorf("navigation timeout for %s: %w", req.URL, err)
		}
		return fmt.Errorf("navigation failed for %s: %w", req.URL, err)
	}
	return nil
}

// mutatePage applies the ordered page-mutation sequence. Every step here is
// non-fatal: the capture proceeds with whatever the page looks like.
func (d *Driver) mutatePage(ctx context.Context, page playwright.Page, req *request.CaptureRequest, art *Artifact) {
	if req.BlockAds {
		if _, err := page.AddStyleTag(playwright.PageAddStyleTagOptions{
			Content: playwright.String(blocklist.HideCSS),
		}); err != nil {
			art.warnf("overlay suppression CSS not injected: %v", err)
		}
	}

	if req.WaitForSelector != "" {
		if err := page.Locator(req.WaitForSelector).First().WaitFor(playwright.LocatorWaitForOptions{
			Timeout: playwright.Float(selectorWaitMS),
		}); err != nil {
			art.warnf("wait for %q timed out: %v", req.WaitForSelector, err)
		}
	}

	if req.Script != "" {
		if _, err := page.Evaluate(req.Script); err != nil {
			art.warnf("custom script failed: %v", err)
		}
		page.WaitForTimeout(scriptSettleMS)
	}

	if req.DelayMS > 0 {
		page.WaitForTimeout(float64(req.DelayMS))
	}

	if len(req.HideSelectors) > 0 {
		d.hideSelectors(page, req.HideSelectors, art)
	}

	if req.AIRemoval.Enabled {
		d.removeDetected(ctx, page, req, art)
	}

	if req.Scroll.Enabled {
		d.scrollCapture(page, req.Scroll, art)
	}
}

func (d *Driver) hideSelectors(page playwright.Page, selectors []string, art *Artifact) {
	var rules strings.Builder
	for i, sel := range selectors {
		if i > 0 {
			rules.WriteString(", ")
		}
		rules.WriteString(sel)
	}
	rules.WriteString(" { display: none !important; visibility: hidden !important; }")
	if _, err := page.AddStyleTag(playwright.PageAddStyleTagOptions{
		Content: playwright.String(rules.String()),
	}); err != nil {
		art.warnf("hide selectors not applied: %v", err)
	}
}

// removeDetected asks the classifier for intrusive elements and hides the
// matches. Any failure here removes nothing and never aborts the capture.
func (d *Driver) removeDetected(ctx context.Context, page playwright.Page, req *request.CaptureRequest, art *Artifact) {
	if d.detector == nil {
		art.warnf("element removal requested but no detector configured")
		return
	}
	html, err := page.Content()
	if err != nil {
		art.warnf("element removal skipped, page HTML unavailable: %v", err)
		return
	}
	elements, err := d.detector.Detect(ctx, html)
	if err != nil {
		art.warnf("element detection failed, removing nothing: %v", err)
		return
	}
	matched := detect.Filter(elements, req.AIRemoval.Types, req.AIRemoval.Confidence)
	if len(matched) == 0 {
		return
	}
	selectors := make([]string, 0, len(matched))
	for _, e := range matched {
		selectors = append(selectors, e.Selector)
	}
	d.hideSelectors(page, selectors, art)
	d.log.LogDebugf("hid %d detected elements", len(matched))
	page.WaitForTimeout(removalSettleMS)
}

// scrollCapture steps through the page to trigger lazy-loaded content, then
// returns to the origin before the screenshot.
func (d *Driver) scrollCapture(page playwright.Page, s request.Scroll, art *Artifact) {
	steps := (s.Distance + scrollStepPX - 1) / scrollStepPX
	perStepMS := float64(scrollStepPX) * 1000 / float64(s.Speed)
	delta := scrollStepPX
	if s.Direction == "up" {
		delta = -scrollStepPX
	}
	for i := 0; i < steps; i++ {
		if _, err := page.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", delta)); err != nil {
			art.warnf("scroll aborted mid-way: %v", err)
			break
		}
		page.WaitForTimeout(perStepMS)
	}
	if _, err := page.Evaluate("window.scrollTo(0, 0)"); err != nil {
		art.warnf("scroll back to origin failed: %v", err)
	}
	page.WaitForTimeout(scrollSettleMS)
}

// capture produces the raw artifact. PDF output is paginated A4 and bypasses
// all later image post-processing; raster output is always PNG here, with
// format conversion owned by the post-processor.
func (d *Driver) capture(page playwright.Page, req *request.CaptureRequest, art *Artifact) error {
	if req.Format == request.FormatPDF {
		buf, err := page.PDF(playwright.PagePdfOptions{
			Format:          playwright.String("A4"),
			PrintBackground: playwright.Bool(true),
			Margin: &playwright.Margin{
				Top:    playwright.String("1cm"),
				Right:  playwright.String("1cm"),
				Bottom: playwright.String("1cm"),
				Left:   playwright.String("1cm"),
			},
		})
		if err != nil {
			return fmt.Errorf("pdf render failed: %w", err)
		}
		art.Bytes = buf
		art.IsPDF = true
		return nil
	}

	opts := playwright.PageScreenshotOptions{
		Type:     playwright.ScreenshotTypePng,
		FullPage: playwright.Bool(req.FullPage),
		Timeout:  playwright.Float(navigationTimeoutMS),
	}

	// An explicit clip rectangle wins over a selector.
	if req.Clip != nil {
		opts.Clip = &playwright.Rect{
			X:      float64(req.Clip.X),
			Y:      float64(req.Clip.Y),
			Width:  float64(req.Clip.Width),
			Height: float64(req.Clip.Height),
		}
	} else if req.Selector != "" {
		loc := page.Locator(req.Selector)
		count, err := loc.Count()
		if err != nil || count == 0 {
			return fmt.Errorf("%w: %q", ErrElementNotFound, req.Selector)
		}
		buf, err := loc.First().Screenshot(playwright.LocatorScreenshotOptions{
			Type:    playwright.ScreenshotTypePng,
			Timeout: playwright.Float(navigationTimeoutMS),
		})
		if err != nil {
			return fmt.Errorf("element screenshot failed: %w", err)
		}
		art.Bytes = buf
		return nil
	}

	buf, err := page.Screenshot(opts)
	if err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}
	if len(buf) == 0 {
		return fmt.Errorf("screenshot produced no bytes")
	}
	art.Bytes = buf
	return nil
}

// closeQuietly runs a close function so a failing close never masks the
// primary result or error.
func (d *Driver) closeQuietly(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		d.log.LogWarnf("failed to close %s: %v", name, err)
	}
}

func (a *Artifact) warnf(format string, v ...interface{}) {
	a.Warnings = append(a.Warnings, fmt.Sprintf(format, v...))
}

package request

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Format is the requested artifact encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
	FormatPDF  Format = "pdf"
)

const (
	DefaultWidth      = 1920
	DefaultHeight     = 1080
	DefaultQuality    = 90
	DefaultConfidence = 0.8
	MaxDelayMS        = 10000
)

var ErrInvalid = errors.New("invalid capture request")

type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Clip struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type AIRemoval struct {
	Enabled    bool     `json:"enabled"`
	Types      []string `json:"types,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

type Scroll struct {
	Enabled  bool   `json:"enabled"`
	Direction string `json:"direction,omitempty"` // down or up
	Distance int    `json:"distance,omitempty"`
	Speed    int    `json:"speed,omitempty"` // pixels per second
}

type CacheDirective struct {
	Disabled bool `json:"disabled"`
	TTL      int  `json:"ttl,omitempty"` // seconds
}

type StorageDirective struct {
	Save     bool   `json:"save"`
	Bucket   string `json:"bucket,omitempty"`
	Path     string `json:"path,omitempty"`
	Filename string `json:"filename,omitempty"`
	ACL      string `json:"acl,omitempty"`
}

// CaptureRequest is the full configuration for one capture. A request is
// normalized once at the API boundary and treated as read-only afterwards.
type CaptureRequest struct {
	URL string `json:"url"`

	Device      string  `json:"device,omitempty"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	DeviceScale float64 `json:"device_scale,omitempty"`

	Format   Format `json:"format,omitempty"`
	Quality  int    `json:"quality,omitempty"`
	FullPage bool   `json:"full_page,omitempty"`
	Selector string `json:"selector,omitempty"`
	Clip     *Clip  `json:"clip,omitempty"`
	DelayMS  int    `json:"delay_ms,omitempty"`

	Mockup        string    `json:"mockup,omitempty"`
	HideSelectors []string  `json:"hide_selectors,omitempty"`
	AIRemoval     AIRemoval `json:"ai_removal,omitempty"`

	BlockAds  bool              `json:"block_ads,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Cookies   []Cookie          `json:"cookies,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Stealth   bool              `json:"stealth,omitempty"`

	Timezone    string       `json:"timezone,omitempty"`
	Geolocation *Geolocation `json:"geolocation,omitempty"`
	DarkMode    bool         `json:"dark_mode,omitempty"`

	Scroll  Scroll           `json:"scroll,omitempty"`
	Cache   CacheDirective   `json:"cache,omitempty"`
	Storage StorageDirective `json:"storage,omitempty"`

	WaitUntil       string `json:"wait_until,omitempty"` // domcontentloaded or networkidle
	WaitForSelector string `json:"wait_for_selector,omitempty"`
	Script          string `json:"script,omitempty"`

	Async bool `json:"async,omitempty"`
}

// Viewport is the concrete emulation resolved from a request.
type Viewport struct {
	Width     int
	Height    int
	Scale     float64
	Mobile    bool
	Touch     bool
	UserAgent string
}

// Named device presets. Explicit width/height on the request always wins.
var devices = map[string]Viewport{
	"desktop": {Width: 1920, Height: 1080, Scale: 1.0},
	"laptop":  {Width: 1440, Height: 900, Scale: 2.0},
	"tablet": {
		Width: 768, Height: 1024, Scale: 2.0, Mobile: true, Touch: true,
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 14_7_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1",
	},
	"mobile": {
		Width: 375, Height: 812, Scale: 2.0, Mobile: true, Touch: true,
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1",
	},
}

// KnownDevice reports whether name is a registered device preset.
func KnownDevice(name string) bool {
	_, ok := devices[name]
	return ok
}

// ResolveViewport applies the precedence explicit dimensions > named device >
// 1920x1080 default, then overlays the request's device scale if set.
func (r *CaptureRequest) ResolveViewport() Viewport {
	vp := Viewport{Width: DefaultWidth, Height: DefaultHeight, Scale: 1.0}
	if d, ok := devices[strings.ToLower(r.Device)]; ok {
		vp = d
	}
	if r.Width > 0 && r.Height > 0 {
		vp = Viewport{Width: r.Width, Height: r.Height, Scale: 1.0}
	}
	if r.DeviceScale > 0 {
		vp.Scale = r.DeviceScale
	}
	return vp
}

// Normalized returns a copy with defaults filled in and out-of-range values
// clamped. Validation still applies to the normalized copy.
func (r CaptureRequest) Normalized() CaptureRequest {
	if r.Format == "" {
		r.Format = FormatPNG
	}
	r.Format = Format(strings.ToLower(string(r.Format)))
	if r.Format == "jpg" {
		r.Format = FormatJPEG
	}
	if r.Quality <= 0 || r.Quality > 100 {
		r.Quality = DefaultQuality
	}
	if r.DelayMS < 0 {
		r.DelayMS = 0
	}
	if r.DelayMS > MaxDelayMS {
		r.DelayMS = MaxDelayMS
	}
	if r.AIRemoval.Enabled && r.AIRemoval.Confidence <= 0 {
		r.AIRemoval.Confidence = DefaultConfidence
	}
	if r.Scroll.Enabled {
		if r.Scroll.Direction == "" {
			r.Scroll.Direction = "down"
		}
		if r.Scroll.Distance <= 0 {
			r.Scroll.Distance = 2000
		}
		if r.Scroll.Speed <= 0 {
			r.Scroll.Speed = 1000
		}
	}
	if r.WaitUntil == "" {
		r.WaitUntil = "domcontentloaded"
	}
	return r
}

// Validate checks the request shape. Mockup existence is checked against the
// registry by the capture service, not here.
func (r *CaptureRequest) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	u, err := url.Parse(r.URL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalid)
	}
	switch r.Format {
	case FormatPNG, FormatJPEG, FormatWebP, FormatPDF:
	default:
		return fmt.Errorf("%w: unsupported format %q", ErrInvalid, r.Format)
	}
	if r.Device != "" && !KnownDevice(strings.ToLower(r.Device)) {
		return fmt.Errorf("%w: unknown device %q", ErrInvalid, r.Device)
	}
	if (r.Width > 0) != (r.Height > 0) {
		return fmt.Errorf("%w: width and height must be set together", ErrInvalid)
	}
	if r.AIRemoval.Enabled && (r.AIRemoval.Confidence < 0 || r.AIRemoval.Confidence > 1) {
		return fmt.Errorf("%w: ai_removal.confidence must be in [0,1]", ErrInvalid)
	}
	if s := r.Scroll; s.Enabled && s.Direction != "down" && s.Direction != "up" {
		return fmt.Errorf("%w: scroll.direction must be down or up", ErrInvalid)
	}
	return nil
}

// ContentType maps the format to the HTTP content type of the artifact.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatPDF:
		return "application/pdf"
	default:
		return "image/png"
	}
}

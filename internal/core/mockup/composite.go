package mockup

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"capture/internal/core/request"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// Fit is the resize policy used when placing a capture into a frame's screen
// rectangle.
type Fit int

const (
	FitCover   Fit = iota // crop to fill, centered
	FitContain            // letterbox to fit
)

var (
	letterboxLight = color.NRGBA{R: 0xF1, G: 0xF2, B: 0xF4, A: 0xFF}
	letterboxDark  = color.NRGBA{R: 0x1A, G: 0x1A, B: 0x1E, A: 0xFF}
)

const laptopRatioTolerance = 0.1

// SelectFit picks the resize policy for a frame class given source and target
// aspect ratios (width/height). Returns the letterbox background, which only
// matters for FitContain.
func SelectFit(class Class, srcRatio, dstRatio float64) (Fit, color.NRGBA) {
	switch class {
	case ClassBrowser:
		// Browser chrome must show an edge-to-edge viewport, no gaps.
		return FitCover, letterboxLight
	case ClassMobile:
		// A desktop-shaped capture forced into a phone-shaped slot would lose
		// almost everything to the crop.
		if srcRatio > 1.5 && dstRatio < 1 {
			return FitContain, letterboxLight
		}
		return FitCover, letterboxLight
	case ClassLaptop:
		if math.Abs(srcRatio-dstRatio) < laptopRatioTolerance {
			return FitCover, letterboxDark
		}
		return FitContain, letterboxDark
	default:
		return FitCover, letterboxLight
	}
}

// Composite places raw capture bytes into the template's screen rectangle and
// returns the framed PNG. A broken or missing template asset is reported as a
// warning and the original bytes come back untouched, so a bad asset never
// fails a request that already rendered.
func Composite(raw []byte, tpl *Template) ([]byte, string, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode capture for compositing: %w", err)
	}

	frame, err := imaging.Open(tpl.Asset)
	if err != nil {
		return raw, fmt.Sprintf("mockup %q asset unavailable, returning plain capture: %v", tpl.ID, err), nil
	}

	sb := src.Bounds()
	srcRatio := float64(sb.Dx()) / float64(sb.Dy())
	dstRatio := float64(tpl.Screen.Width) / float64(tpl.Screen.Height)
	fit, bg := SelectFit(tpl.Class, srcRatio, dstRatio)

	var screen *image.NRGBA
	switch fit {
	case FitContain:
		screen = imaging.New(tpl.Screen.Width, tpl.Screen.Height, bg)
		fitted := imaging.Fit(src, tpl.Screen.Width, tpl.Screen.Height, imaging.Lanczos)
		screen = imaging.PasteCenter(screen, fitted)
	default:
		screen = imaging.Fill(src, tpl.Screen.Width, tpl.Screen.Height, imaging.Center, imaging.Lanczos)
	}

	out := imaging.Clone(frame)
	out = imaging.Paste(out, screen, image.Pt(tpl.Screen.X, tpl.Screen.Y))

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, "", fmt.Errorf("encode composited frame: %w", err)
	}
	return buf.Bytes(), "", nil
}

// Transcode converts raw image bytes to the requested format. PNG input that
// stays PNG passes through untouched; PDF bytes are never transcoded and must
// not reach here.
func Transcode(raw []byte, format request.Format, quality int) ([]byte, error) {
	if format == request.FormatPNG || format == "" {
		return raw, nil
	}
	if format == request.FormatPDF {
		return raw, nil
	}
	if quality <= 0 || quality > 100 {
		quality = request.DefaultQuality
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode capture for transcoding: %w", err)
	}

	var buf bytes.Buffer
	switch format {
	case request.FormatJPEG:
		// JPEG has no alpha channel; flatten onto white first.
		flat := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.NRGBA{0xFF, 0xFF, 0xFF, 0xFF})
		flat = imaging.Paste(flat, img, image.Pt(0, 0))
		if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case request.FormatWebP:
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported transcode format %q", format)
	}
	return buf.Bytes(), nil
}

package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"capture/internal/config"
	"capture/internal/core/browser"
	"capture/internal/core/cache"
	"capture/internal/core/mockup"
	"capture/internal/core/request"
	"capture/internal/core/storage"
)

type fakeDriver struct {
	calls    int
	lastReq  request.CaptureRequest
	artifact *browser.Artifact
	err      error
}

func (d *fakeDriver) Capture(_ context.Context, req *request.CaptureRequest) (*browser.Artifact, error) {
	d.calls++
	d.lastReq = *req
	if d.err != nil {
		return nil, d.err
	}
	return d.artifact, nil
}

type fakeUploader struct {
	configured bool
	lastInput  storage.UploadInput
	result     *storage.UploadResult
	err        error
}

func (u *fakeUploader) Configured() bool { return u.configured }

func (u *fakeUploader) Upload(_ context.Context, data []byte, in storage.UploadInput) (*storage.UploadResult, error) {
	u.lastInput = in
	if u.err != nil {
		return nil, u.err
	}
	if u.result != nil {
		return u.result, nil
	}
	return &storage.UploadResult{URL: "https://cdn.example.com/x", Size: len(data)}, nil
}

func testRegistry(t *testing.T) *mockup.Registry {
	t.Helper()
	dir := t.TempDir()
	catalog := `mockups:
  - id: iphone-14
    asset: assets/iphone-14.png
    screen: {x: 10, y: 20, width: 100, height: 200}
  - id: browser-light
    asset: assets/browser-light.png
    screen: {x: 0, y: 40, width: 320, height: 180}
`
	path := filepath.Join(dir, "mockups.yaml")
	if err := os.WriteFile(path, []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := mockup.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func screenshotPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xCC
	}
	img.Set(0, 0, color.RGBA{R: 0xFF, A: 0xFF})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestService(t *testing.T, driver *fakeDriver, uploader *fakeUploader) (*Service, cache.Store) {
	t.Helper()
	store := cache.NewMemory(cache.Options{})
	cfg := config.Config{CacheDefaultTTL: 3600, DataDir: t.TempDir()}
	svc := New(cfg, driver, testRegistry(t), store, uploader, nil)
	return svc, store
}

func TestCaptureRejectsInvalidRequest(t *testing.T) {
	driver := &fakeDriver{artifact: &browser.Artifact{Bytes: screenshotPNG(t)}}
	svc, _ := newTestService(t, driver, &fakeUploader{})

	_, err := svc.Capture(context.Background(), request.CaptureRequest{})
	if !errors.Is(err, request.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if driver.calls != 0 {
		t.Fatal("driver ran for an invalid request")
	}
}

func TestCaptureUnknownMockup(t *testing.T) {
	driver := &fakeDriver{artifact: &browser.Artifact{Bytes: screenshotPNG(t)}}
	svc, _ := newTestService(t, driver, &fakeUploader{})

	_, err := svc.Capture(context.Background(), request.CaptureRequest{
		URL:    "https://example.com",
		Mockup: "nope",
	})
	if !errors.Is(err, ErrUnknownMockup) {
		t.Fatalf("err = %v, want ErrUnknownMockup", err)
	}
	if driver.calls != 0 {
		t.Fatal("driver ran despite a configuration error")
	}
}

func TestCaptureStorageUnconfigured(t *testing.T) {
	driver := &fakeDriver{artifact: &browser.Artifact{Bytes: screenshotPNG(t)}}
	svc, _ := newTestService(t, driver, &fakeUploader{configured: false})

	_, err := svc.Capture(context.Background(), request.CaptureRequest{
		URL:     "https://example.com",
		Storage: request.StorageDirective{Save: true},
	})
	if !errors.Is(err, storage.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if driver.calls != 0 {
		t.Fatal("driver ran despite missing storage credentials")
	}
}

func TestCaptureCachesAndReplays(t *testing.T) {
	driver := &fakeDriver{artifact: &browser.Artifact{Bytes: screenshotPNG(t)}}
	svc, store := newTestService(t, driver, &fakeUploader{})
	raw := request.CaptureRequest{URL: "https://example.com"}

	first, err := svc.Capture(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}
	if first.FromCache {
		t.Fatal("first capture reported as cached")
	}

	norm := raw.Normalized()
	if _, ok := store.Get(context.Background(), cache.Fingerprint(&norm)); !ok {
		t.Fatal("artifact missing from cache after capture")
	}

	second, err := svc.Capture(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache {
		t.Fatal("second capture missed the cache")
	}
	if driver.calls != 1 {
		t.Fatalf("driver ran %d times, want 1", driver.calls)
	}
	if !bytes.Equal(first.Bytes, second.Bytes) {
		t.Fatal("cached bytes differ from the original artifact")
	}
}

func TestCaptureCacheDisabled(t *testing.T) {
	driver := &fakeDriver{artifact: &browser.Artifact{Bytes: screenshotPNG(t)}}
	svc, _ := newTestService(t, driver, &fakeUploader{})
	raw := request.CaptureRequest{URL: "https://example.com", Cache: request.CacheDirective{Disabled: true}}

	for i := 0; i < 2; i++ {
		if _, err := svc.Capture(context.Background(), raw); err != nil {
			t.Fatal(err)
		}
	}
	if driver.calls != 2 {
		t.Fatalf("driver ran %d times, want 2", driver.calls)
	}
}

func TestCaptureMockupNarrowsDevice(t *testing.T) {
	driver := &fakeDriver{artifact: &browser.Artifact{Bytes: screenshotPNG(t)}}
	svc, _ := newTestService(t, driver, &fakeUploader{})

	res, err := svc.Capture(context.Background(), request.CaptureRequest{
		URL:    "https://example.com",
		Mockup: "iphone-14",
	})
	if err != nil {
		t.Fatal(err)
	}
	if driver.lastReq.Device != "mobile" {
		t.Fatalf("driver device = %q, want mobile", driver.lastReq.Device)
	}
	// The catalog asset does not exist on disk, so compositing degrades to
	// the raw screenshot with a warning.
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "iphone-14") {
			found = true
		}
	}
	if !found {
		t.Fatalf("warnings %v missing mockup degradation notice", res.Warnings)
	}
	if res.ContentType != "image/png" {
		t.Fatalf("content type = %q", res.ContentType)
	}
}

func TestCaptureExplicitViewportWinsOverMockup(t *testing.T) {
	driver := &fakeDriver{artifact: &browser.Artifact{Bytes: screenshotPNG(t)}}
	svc, _ := newTestService(t, driver, &fakeUploader{})

	_, err := svc.Capture(context.Background(), request.CaptureRequest{
		URL:    "https://example.com",
		Mockup: "iphone-14",
		Width:  800,
		Height: 600,
	})
	if err != nil {
		t.Fatal(err)
	}
	if driver.lastReq.Device != "" {
		t.Fatalf("device = %q, explicit dimensions must not be overridden", driver.lastReq.Device)
	}
}

func TestCapturePDFBypassesPostProcessing(t *testing.T) {
	pdf := []byte("%PDF-1.7 fake")
	driver := &fakeDriver{artifact: &browser.Artifact{Bytes: pdf, IsPDF: true}}
	svc, _ := newTestService(t, driver, &fakeUploader{})

	res, err := svc.Capture(context.Background(), request.CaptureRequest{
		URL:    "https://example.com",
		Format: request.FormatPDF,
		Mockup: "iphone-14",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.Bytes, pdf) {
		t.Fatal("pdf bytes were altered by post-processing")
	}
	if res.ContentType != "application/pdf" {
		t.Fatalf("content type = %q", res.ContentType)
	}
	if driver.lastReq.Device != "" {
		t.Fatalf("device = %q, mockups must not affect pdf captures", driver.lastReq.Device)
	}
}

func TestCaptureTranscodesToRequestedFormat(t *testing.T) {
	driver := &fakeDriver{artifact: &browser.Artifact{Bytes: screenshotPNG(t)}}
	svc, _ := newTestService(t, driver, &fakeUploader{})

	res, err := svc.Capture(context.Background(), request.CaptureRequest{
		URL:    "https://example.com",
		Format: request.FormatJPEG,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ContentType != "image/jpeg" {
		t.Fatalf("content type = %q", res.ContentType)
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(res.Bytes)); err != nil || format != "jpeg" {
		t.Fatalf("decoded format = %q, err = %v", format, err)
	}
}

func TestCaptureUploadsWhenRequested(t *testing.T) {
	driver := &fakeDriver{artifact: &browser.Artifact{Bytes: screenshotPNG(t)}}
	uploader := &fakeUploader{configured: true}
	svc, _ := newTestService(t, driver, uploader)

	res, err := svc.Capture(context.Background(), request.CaptureRequest{
		URL:     "https://example.com",
		Storage: request.StorageDirective{Save: true, Path: "clients/acme", ACL: "public-read"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Upload == nil || res.Upload.URL == "" {
		t.Fatal("upload result missing")
	}
	if uploader.lastInput.Path != "clients/acme" || uploader.lastInput.ACL != "public-read" {
		t.Fatalf("upload input = %+v", uploader.lastInput)
	}
	if uploader.lastInput.ContentType != "image/png" {
		t.Fatalf("upload content type = %q", uploader.lastInput.ContentType)
	}
}

func TestCaptureUploadFailureSurfaces(t *testing.T) {
	driver := &fakeDriver{artifact: &browser.Artifact{Bytes: screenshotPNG(t)}}
	wantErr := &storage.UploadError{Provider: "spaces", StatusCode: 403, Body: "denied"}
	svc, _ := newTestService(t, driver, &fakeUploader{configured: true, err: wantErr})

	_, err := svc.Capture(context.Background(), request.CaptureRequest{
		URL:     "https://example.com",
		Storage: request.StorageDirective{Save: true},
	})
	var ue *storage.UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UploadError", err)
	}
}

func TestWarningsHeaderSanitized(t *testing.T) {
	got := warningsHeader([]string{
		"navigation failed:\ntimeout\r\nexceeded",
		"stealth patches not installed",
	})
	if strings.ContainsAny(got, "\r\n") {
		t.Fatalf("header value contains line breaks: %q", got)
	}
	if !strings.Contains(got, "; stealth patches not installed") {
		t.Fatalf("header value = %q", got)
	}
}

func TestCaptureDriverWarningsPropagate(t *testing.T) {
	driver := &fakeDriver{artifact: &browser.Artifact{
		Bytes:    screenshotPNG(t),
		Warnings: []string{"element removal degraded: detector timeout"},
	}}
	svc, _ := newTestService(t, driver, &fakeUploader{})

	res, err := svc.Capture(context.Background(), request.CaptureRequest{URL: "https://example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "detector timeout") {
		t.Fatalf("warnings = %v", res.Warnings)
	}
}

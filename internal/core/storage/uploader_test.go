package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"capture/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func testUploader(cfg config.Config, rt roundTripFunc) *Uploader {
	u := New(cfg)
	u.now = func() time.Time { return time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC) }
	if rt != nil {
		u.httpClient = &http.Client{Transport: rt}
	}
	return u
}

func spacesConfig() config.Config {
	return config.Config{
		SpacesEndpoint: "https://nyc3.digitaloceanspaces.com",
		SpacesRegion:   "nyc3",
		SpacesKey:      "SPACESKEY",
		SpacesSecret:   "spacessecret",
		SpacesBucket:   "shots",
	}
}

func awsConfig() config.Config {
	return config.Config{
		AWSAccessKey: "AKID",
		AWSSecretKey: "secret",
		AWSRegion:    "us-east-1",
		AWSBucket:    "shots-s3",
	}
}

func okResponse() *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}
}

func TestUploadNotConfigured(t *testing.T) {
	u := testUploader(config.Config{}, nil)
	if u.Configured() {
		t.Fatal("empty config reported as configured")
	}
	_, err := u.Upload(context.Background(), []byte("x"), UploadInput{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestUploadPrefersEndpointProvider(t *testing.T) {
	cfg := spacesConfig()
	cfg.AWSAccessKey = "AKID"
	cfg.AWSSecretKey = "secret"
	cfg.AWSRegion = "us-east-1"
	cfg.AWSBucket = "shots-s3"

	var seen *http.Request
	u := testUploader(cfg, func(r *http.Request) (*http.Response, error) {
		seen = r
		return okResponse(), nil
	})

	res, err := u.Upload(context.Background(), []byte("png-bytes"), UploadInput{ContentType: "image/png"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != "spaces" {
		t.Fatalf("provider = %q, want spaces", res.Provider)
	}
	if seen.URL.Host != "shots.nyc3.digitaloceanspaces.com" {
		t.Fatalf("request host = %q", seen.URL.Host)
	}
	if seen.Method != http.MethodPut {
		t.Fatalf("method = %q", seen.Method)
	}
}

func TestUploadRequestHeaders(t *testing.T) {
	var seen *http.Request
	u := testUploader(spacesConfig(), func(r *http.Request) (*http.Response, error) {
		seen = r
		return okResponse(), nil
	})

	data := []byte("jpeg-bytes")
	_, err := u.Upload(context.Background(), data, UploadInput{
		ContentType: "image/jpeg",
		ACL:         "public-read",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := seen.Header.Get("x-amz-content-sha256"); got != hexSHA256(data) {
		t.Fatalf("x-amz-content-sha256 = %q", got)
	}
	if got := seen.Header.Get("x-amz-acl"); got != "public-read" {
		t.Fatalf("x-amz-acl = %q", got)
	}
	if got := seen.Header.Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("content-type = %q", got)
	}
	// Content length rides on the request itself, never as a manual header.
	if seen.ContentLength != int64(len(data)) {
		t.Fatalf("content length = %d, want %d", seen.ContentLength, len(data))
	}
	if seen.Header.Get("Content-Length") != "" {
		t.Fatal("content-length set as a manual header")
	}
	auth := seen.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=SPACESKEY/20260315/nyc3/s3/aws4_request") {
		t.Fatalf("authorization = %q", auth)
	}
}

func TestUploadObjectKeyShape(t *testing.T) {
	var seen *http.Request
	u := testUploader(spacesConfig(), func(r *http.Request) (*http.Response, error) {
		seen = r
		return okResponse(), nil
	})

	res, err := u.Upload(context.Background(), []byte("x"), UploadInput{ContentType: "image/webp"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Key, "captures/20260315T103000_") || !strings.HasSuffix(res.Key, ".webp") {
		t.Fatalf("generated key = %q", res.Key)
	}
	if got := strings.TrimPrefix(seen.URL.Path, "/"); got != res.Key {
		t.Fatalf("request path %q does not match key %q", seen.URL.Path, res.Key)
	}

	res, err = u.Upload(context.Background(), []byte("x"), UploadInput{
		Path:        "/clients/acme/",
		Filename:    "homepage",
		ContentType: "application/pdf",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Key != "clients/acme/homepage.pdf" {
		t.Fatalf("explicit key = %q", res.Key)
	}
}

func TestUploadBucketOverrideAndPublicURL(t *testing.T) {
	cfg := spacesConfig()
	cfg.SpacesPublicURL = "https://cdn.example.com/"
	u := testUploader(cfg, func(r *http.Request) (*http.Response, error) {
		return okResponse(), nil
	})

	res, err := u.Upload(context.Background(), []byte("x"), UploadInput{
		Bucket:      "override",
		Filename:    "a",
		ContentType: "image/png",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Bucket != "override" {
		t.Fatalf("bucket = %q", res.Bucket)
	}
	if res.URL != "https://cdn.example.com/captures/a.png" {
		t.Fatalf("url = %q", res.URL)
	}
}

func TestUploadNoBucket(t *testing.T) {
	cfg := spacesConfig()
	cfg.SpacesBucket = ""
	u := testUploader(cfg, nil)
	_, err := u.Upload(context.Background(), []byte("x"), UploadInput{})
	if err == nil || !strings.Contains(err.Error(), "no bucket") {
		t.Fatalf("err = %v", err)
	}
}

func TestUploadRemoteRejection(t *testing.T) {
	u := testUploader(awsConfig(), func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusForbidden,
			Body:       io.NopCloser(strings.NewReader("<Error><Code>AccessDenied</Code></Error>")),
		}, nil
	})

	_, err := u.Upload(context.Background(), []byte("x"), UploadInput{ContentType: "image/png"})
	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UploadError", err)
	}
	if ue.Provider != "s3" || ue.StatusCode != http.StatusForbidden {
		t.Fatalf("upload error = %+v", ue)
	}
	if !strings.Contains(ue.Body, "AccessDenied") {
		t.Fatalf("body = %q", ue.Body)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"image/png":       "png",
		"image/jpeg":      "jpg",
		"image/webp":      "webp",
		"application/pdf": "pdf",
		"":                "png",
		"text/html":       "png",
	}
	for ct, want := range tests {
		if got := extensionFor(ct); got != want {
			t.Errorf("extensionFor(%q) = %q, want %q", ct, got, want)
		}
	}
}

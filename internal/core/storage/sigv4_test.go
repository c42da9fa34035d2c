package storage

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

// Golden test against the published SigV4 reference vectors ("get-vanilla"):
// fixed credentials, timestamp and an empty payload must reproduce the
// reference signature exactly.
func TestSignV4ReferenceSignature(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://example.amazonaws.com/", nil)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)

	signV4(req, emptyPayloadHash, "AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "us-east-1", "service", now)

	want := "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20150830/us-east-1/service/aws4_request, " +
		"SignedHeaders=host;x-amz-date, " +
		"Signature=5fa00fa31553b73ebf1942676e86291e8372ff2a2260956d9b8aae1d763fbf31"
	if got := req.Header.Get("Authorization"); got != want {
		t.Fatalf("authorization header mismatch\n got: %s\nwant: %s", got, want)
	}
	if got := req.Header.Get("x-amz-date"); got != "20150830T123600Z" {
		t.Fatalf("x-amz-date = %q", got)
	}
}

func TestSignV4SignedHeaderSet(t *testing.T) {
	req, err := http.NewRequest(http.MethodPut, "https://bucket.s3.us-east-1.amazonaws.com/captures/a.png", strings.NewReader("body"))
	if err != nil {
		t.Fatal(err)
	}
	payloadHash := hexSHA256([]byte("body"))
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-acl", "public-read")
	// Unsigned headers must not leak into the signed set.
	req.Header.Set("User-Agent", "test")

	signV4(req, payloadHash, "AKID", "secret", "us-east-1", "s3", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	auth := req.Header.Get("Authorization")
	wantSigned := "SignedHeaders=content-type;host;x-amz-acl;x-amz-content-sha256;x-amz-date"
	if !strings.Contains(auth, wantSigned) {
		t.Fatalf("authorization %q missing %q", auth, wantSigned)
	}
	if !strings.Contains(auth, "Credential=AKID/20260102/us-east-1/s3/aws4_request") {
		t.Fatalf("authorization %q has wrong credential scope", auth)
	}
	sigIdx := strings.Index(auth, "Signature=")
	if sigIdx < 0 || len(auth[sigIdx+len("Signature="):]) != 64 {
		t.Fatalf("authorization %q has malformed signature", auth)
	}
}

func TestSignV4Deterministic(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sign := func() string {
		req, _ := http.NewRequest(http.MethodPut, "https://b.example.com/k.png", nil)
		req.Header.Set("x-amz-content-sha256", emptyPayloadHash)
		signV4(req, emptyPayloadHash, "AKID", "secret", "us-east-1", "s3", now)
		return req.Header.Get("Authorization")
	}
	if sign() != sign() {
		t.Fatal("identical inputs produced different signatures")
	}
}

func TestURIEncodePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/", "/"},
		{"", "/"},
		{"/captures/a.png", "/captures/a.png"},
		{"/captures/my file (1).png", "/captures/my%20file%20%281%29.png"},
		{"/a~b_c-d.e", "/a~b_c-d.e"},
		{"/100%", "/100%25"},
	}
	for _, tt := range tests {
		if got := uriEncodePath(tt.in); got != tt.want {
			t.Errorf("uriEncodePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

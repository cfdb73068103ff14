package helpers

import (
	"strings"
	"testing"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "defaults https and cleans path",
			in:   "Example.com/coverage/../press/latest",
			want: "https://example.com/press/latest",
		},
		{
			name: "removes default port and tracking params",
			in:   "http://news.example.com:80/article?id=123&utm_source=rss#section",
			want: "http://news.example.com/article?id=123",
		},
		{
			name: "sorts query parameters and preserves trailing slash",
			in:   "https://example.com/path/?b=2&a=1&fbclid=xyz",
			want: "https://example.com/path/?a=1&b=2",
		},
		{
			name: "handles schemeless url with double slash",
			in:   "//blog.example.com/post/42?utm_medium=email",
			want: "https://blog.example.com/post/42",
		},
		{
			name: "normalises repeated slashes",
			in:   "https://example.com//a//b///c",
			want: "https://example.com/a/b/c",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalURL(tt.in)
			if err != nil {
				t.Fatalf("CanonicalURL() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("CanonicalURL() got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCanonicalURLErrors(t *testing.T) {
	t.Parallel()
	if _, err := CanonicalURL(""); err == nil {
		t.Fatalf("expected error for empty input")
	}
	if _, err := CanonicalURL("   "); err == nil {
		t.Fatalf("expected error for blank input")
	}
}

func TestURLFingerprintStableAcrossVariants(t *testing.T) {
	t.Parallel()
	a, err := URLFingerprint("https://example.com/story?id=9&utm_campaign=x")
	if err != nil {
		t.Fatalf("URLFingerprint: %v", err)
	}
	b, err := URLFingerprint("https://EXAMPLE.com:443/story?id=9#top")
	if err != nil {
		t.Fatalf("URLFingerprint: %v", err)
	}
	if a != b {
		t.Fatalf("fingerprints differ for equivalent urls: %s vs %s", a, b)
	}
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Fatalf("unexpected fingerprint format: %q", a)
	}
}

func TestDomain(t *testing.T) {
	t.Parallel()
	if d := Domain("https://www.Example.com/a/b"); d != "example.com" {
		t.Fatalf("Domain() got %q", d)
	}
	if d := Domain("techdaily.io/story"); d != "techdaily.io" {
		t.Fatalf("Domain() schemeless got %q", d)
	}
}

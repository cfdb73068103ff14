package web_fetch

import (
	"testing"

	"github.com/shift6/quotewatch/tools/web_fetch/chromedp"
	"github.com/shift6/quotewatch/tools/web_fetch/httpget"
)

func TestParseFetcherType(t *testing.T) {
	cases := []struct {
		in   string
		want FetcherType
	}{
		{"", HTTPFetcherType},
		{"http", HTTPFetcherType},
		{"chromedp", ChromedpFetcherType},
	}
	for _, c := range cases {
		got, err := ParseFetcherType(c.in)
		if err != nil {
			t.Fatalf("ParseFetcherType(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseFetcherType(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	if _, err := ParseFetcherType("lynx"); err == nil {
		t.Fatal("expected error for unknown fetcher type")
	}
}

func TestNewWebFetcherSelectsImplementation(t *testing.T) {
	f, err := NewWebFetcher(HTTPFetcherType, 0, 0)
	if err != nil {
		t.Fatalf("NewWebFetcher(http): %v", err)
	}
	if _, ok := f.(*httpget.Fetch); !ok {
		t.Fatalf("expected httpget fetcher, got %T", f)
	}

	f, err = NewWebFetcher(ChromedpFetcherType, 0, 0)
	if err != nil {
		t.Fatalf("NewWebFetcher(chromedp): %v", err)
	}
	if _, ok := f.(*chromedp.Fetch); !ok {
		t.Fatalf("expected chromedp fetcher, got %T", f)
	}
}

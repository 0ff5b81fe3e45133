package urlnorm

import (
	"errors"
	"slices"
	"testing"
)

func TestNormalizeInput(t *testing.T) {
	tests := map[string]string{
		"kiddle.co":           "https://kiddle.co",
		"  www.kiddle.co/a ":  "https://www.kiddle.co/a",
		"http://example.com":  "http://example.com",
		"HTTPS://Example.com": "HTTPS://Example.com",
		"about:blank":         "about:blank",
		"ftp://files.test":    "ftp://files.test",
		"":                    "",
	}
	for in, want := range tests {
		if got := NormalizeInput(in); got != want {
			t.Errorf("NormalizeInput(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParse_Canonicalises(t *testing.T) {
	tgt, err := Parse("HTTPS://WWW.Example.COM.:443/Some/Path/?Q=X%20Y")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tgt.Scheme != "https" || tgt.Host != "www.example.com" || tgt.Path != "/some/path" {
		t.Fatalf("unexpected target: %+v", tgt)
	}
	if tgt.Query != "q=x y" {
		t.Fatalf("expected decoded query, got %q", tgt.Query)
	}
}

func TestParse_Rejects(t *testing.T) {
	for _, in := range []string{"", "javascript:alert(1)", "file:///etc/passwd", "https://", "http://exa mple.com"} {
		_, err := Parse(in)
		var mErr *MalformedURLError
		if !errors.As(err, &mErr) {
			t.Errorf("Parse(%q): expected MalformedURLError, got %v", in, err)
		}
	}
}

func TestEntry(t *testing.T) {
	tests := map[string]string{
		"kiddle.co":                    "kiddle.co",
		"https://www.Kiddle.co/":       "kiddle.co",
		"HTTP://kiddle.co:8080/Games/": "kiddle.co/games",
		"sub.example.org":              "sub.example.org",
	}
	for in, want := range tests {
		got, err := Entry(in)
		if err != nil {
			t.Fatalf("Entry(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("Entry(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEntry_RejectsPublicSuffix(t *testing.T) {
	for _, in := range []string{"com", "co.uk", ""} {
		if _, err := Entry(in); err == nil {
			t.Errorf("Entry(%q): expected error", in)
		}
	}
	if _, err := Entry("localhost"); err != nil {
		t.Errorf("Entry(localhost): unexpected error %v", err)
	}
}

func TestCandidates(t *testing.T) {
	tgt, err := Parse("https://www.a.kiddle.co/games/x")
	if err != nil {
		t.Fatal(err)
	}
	got := tgt.Candidates()
	for _, want := range []string{"a.kiddle.co", "a.kiddle.co/games", "a.kiddle.co/games/x", "kiddle.co", "kiddle.co/games"} {
		if !slices.Contains(got, want) {
			t.Errorf("candidates %v missing %q", got, want)
		}
	}
	if slices.Contains(got, "other.co") {
		t.Errorf("unexpected candidate in %v", got)
	}
}

func TestMatchText_ExcludesScheme(t *testing.T) {
	tgt, err := Parse("https://example.com/XXX?q=%41")
	if err != nil {
		t.Fatal(err)
	}
	if got := tgt.MatchText(); got != "example.com/xxx?q=a" {
		t.Fatalf("unexpected match text %q", got)
	}
}

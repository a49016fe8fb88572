package reader

import (
	"strings"
	"testing"
)

func TestCleanTextCollapsesWhitespace(t *testing.T) {
	t.Parallel()

	raw := "First  line\r\n\r\n  Second\tline  \n\n\n"
	if got := CleanText(raw); got != "First line\n\nSecond line" {
		t.Fatalf("unexpected cleaned text: %q", got)
	}
	if got := CleanText("   \n \t \n"); got != "" {
		t.Fatalf("expected empty result for whitespace input, got %q", got)
	}
}

func TestTruncateText(t *testing.T) {
	t.Parallel()

	got, truncated := TruncateText("short", 100)
	if got != "short" || truncated {
		t.Fatalf("did not expect truncation: %q %v", got, truncated)
	}

	got, truncated = TruncateText("abcdefghij", 5)
	if !truncated {
		t.Fatalf("expected truncation")
	}
	if got != "abcd…" {
		t.Fatalf("unexpected truncated text: %q", got)
	}
	if n := len([]rune(got)); n != 5 {
		t.Fatalf("expected 5 runes, got %d", n)
	}
}

func TestExtractHTMLText(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>Sample</title></head><body>
<article><h1>Sample</h1>
<p>` + strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20) + `</p>
</article></body></html>`

	text, err := ExtractHTMLText([]byte(html), "")
	if err != nil {
		t.Fatalf("extract html text: %v", err)
	}
	if !strings.Contains(text, "quick brown fox") {
		t.Fatalf("expected article body in extracted text, got %q", text)
	}
}

func TestExtractHTMLTextEmptyBody(t *testing.T) {
	t.Parallel()

	if _, err := ExtractHTMLText(nil, ""); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

package safety_test

import (
	"strings"
	"testing"

	"easel/internal/safety"
)

func TestSanitizePromptCleanInput(t *testing.T) {
	cleaned, terms := safety.SanitizePrompt("  a watercolor fox in the snow  ")
	if cleaned != "a watercolor fox in the snow" {
		t.Fatalf("cleaned = %q", cleaned)
	}
	if len(terms) != 0 {
		t.Fatalf("terms = %v", terms)
	}
}

func TestSanitizePromptRemovesTerms(t *testing.T) {
	cleaned, terms := safety.SanitizePrompt("sexy portrait, NSFW, oil on canvas")
	if strings.Contains(strings.ToLower(cleaned), "sexy") || strings.Contains(strings.ToLower(cleaned), "nsfw") {
		t.Fatalf("cleaned = %q", cleaned)
	}
	if !strings.Contains(cleaned, "portrait") || !strings.Contains(cleaned, "oil on canvas") {
		t.Fatalf("cleaned = %q", cleaned)
	}
	if _, ok := terms["sexy"]; !ok {
		t.Fatalf("terms = %v", terms)
	}
	if _, ok := terms["nsfw"]; !ok {
		t.Fatalf("terms = %v", terms)
	}
}

func TestDetectTermsWordBoundaries(t *testing.T) {
	// Substrings inside larger words must not match.
	if terms := safety.DetectTerms("classic glassware, analysis"); len(terms) != 0 {
		t.Fatalf("terms = %v", terms)
	}
	if terms := safety.DetectTerms("strictly 18+ content"); len(terms) == 0 {
		t.Fatal("expected 18+ to match")
	}
	if terms := safety.DetectTerms("x-rated poster"); len(terms) == 0 {
		t.Fatal("expected hyphenated variant to match")
	}
}

func TestAugmentNegativePrompt(t *testing.T) {
	terms := map[string]struct{}{"sexy": {}, "x-rated": {}}
	augmented := safety.AugmentNegativePrompt("blurry, low quality", terms)

	if !strings.HasPrefix(augmented, "blurry, low quality, ") {
		t.Fatalf("augmented = %q", augmented)
	}
	for _, want := range []string{"((sexy:1.8))", "((x_rated:1.8))", "((nsfw:1.8))", "((uncensored:1.8))", "((explicit:1.8))"} {
		if !strings.Contains(augmented, want) {
			t.Fatalf("augmented %q lacks %q", augmented, want)
		}
	}

	if got := safety.AugmentNegativePrompt("blurry", map[string]struct{}{}); got != "blurry" {
		t.Fatalf("no-term augmentation changed base: %q", got)
	}
	if got := safety.AugmentNegativePrompt("", map[string]struct{}{"lewd": {}}); strings.HasPrefix(got, ", ") {
		t.Fatalf("empty base produced leading separator: %q", got)
	}
}

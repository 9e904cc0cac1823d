// Package safety strips disallowed content terms from prompts and
// reinforces the negative prompt against what was found.
package safety

import (
	"regexp"
	"sort"
	"strings"
)

var nsfwPatterns = []string{
	`nsfw`,
	`nsfw_art`,
	`nudes?`,
	`nudity`,
	`naked`,
	`topless`,
	`uncensored`,
	`explicit`,
	`x[\s_-]?rated`,
	`adult[\s_-]*only`,
	`adult[\s_-]*content`,
	`adult[\s_-]*materials?`,
	`porn(?:hub)?`,
	`porno`,
	`pornographic`,
	`pornography`,
	`smut`,
	`fetish`,
	`bdsm`,
	`bondage`,
	`lingerie`,
	`underwear`,
	`pant(?:y|ies)`,
	`bras?`,
	`bikini`,
	`swimsuit`,
	`see[\s_-]?through`,
	`transparent[\s_-]*clothing`,
	`sheer`,
	`latex`,
	`leather[\s_-]*outfits?`,
	`harness`,
	`thongs?`,
	`g[\s_-]?string`,
	`cleavage`,
	`sideboob`,
	`underboob`,
	`boobs?`,
	`boobies`,
	`tits?`,
	`titties`,
	`breasts?`,
	`nipples?`,
	`areolae?`,
	`cameltoe`,
	`bulge`,
	`genitals?`,
	`genitalia`,
	`penis`,
	`phallus`,
	`vagina`,
	`vulva`,
	`clitoris`,
	`anus`,
	`anal`,
	`butts?`,
	`buttocks`,
	`ass`,
	`rear`,
	`crotch`,
	`pubic`,
	`pubes`,
	`semen`,
	`cum`,
	`sperm`,
	`ejaculation`,
	`orgasm`,
	`intercourse`,
	`penetration`,
	`blowjobs?`,
	`oral[\s_-]*sex`,
	`hand[\s_-]*jobs?`,
	`fingering`,
	`masturbation`,
	`self[\s_-]*pleasure`,
	`strip(?:per|tease)?`,
	`lap[\s_-]*dance`,
	`sensual`,
	`suggestive`,
	`provocative`,
	`sexy`,
	`lewd`,
	`obscene`,
	`xxx`,
	`r18`,
	`hentai`,
	`yaoi`,
	`yuri`,
	`fuck`,
	`shit`,
	`bitch`,
	`cock`,
	`pussy`,
	`dick`,
	`slut`,
	`whore`,
}

// RE2 has no lookarounds, so word boundaries replace the original
// (?<!\w)/(?!\w) pair; the 18+ marker ends on a non-word rune and needs
// its own alternative with only a leading boundary.
var nsfwRegex = regexp.MustCompile(`(?i)(?:\b(?:` + strings.Join(nsfwPatterns, "|") + `)\b|\b18\+)`)

var (
	collapseSpaces = regexp.MustCompile(`\s+`)
	tokenCleaner   = regexp.MustCompile(`[^0-9A-Za-zА-Яа-яЁё]+`)
)

// DetectTerms returns the canonicalized set of disallowed terms found
// in text.
func DetectTerms(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	if text == "" {
		return terms
	}
	for _, match := range nsfwRegex.FindAllString(text, -1) {
		terms[canonical(match)] = struct{}{}
	}
	return terms
}

// SanitizePrompt removes disallowed terms from the prompt and returns
// the cleaned text plus the terms that were removed.
func SanitizePrompt(prompt string) (string, map[string]struct{}) {
	if prompt == "" {
		return "", map[string]struct{}{}
	}
	terms := DetectTerms(prompt)
	if len(terms) == 0 {
		return strings.TrimSpace(prompt), terms
	}
	sanitized := nsfwRegex.ReplaceAllString(prompt, " ")
	sanitized = strings.TrimSpace(collapseSpaces.ReplaceAllString(sanitized, " "))
	return sanitized, terms
}

// AugmentNegativePrompt appends heavily weighted negations for the
// removed terms, plus a fixed baseline, to the base negative prompt.
// Returns base unchanged when no terms were removed.
func AugmentNegativePrompt(base string, terms map[string]struct{}) string {
	tokens := make(map[string]struct{})
	for term := range terms {
		cleaned := strings.Trim(tokenCleaner.ReplaceAllString(strings.ToLower(term), "_"), "_")
		if cleaned != "" {
			tokens[cleaned] = struct{}{}
		}
	}
	if len(tokens) == 0 {
		return base
	}
	for _, baseline := range []string{"nsfw", "uncensored", "explicit"} {
		tokens[baseline] = struct{}{}
	}

	sorted := make([]string, 0, len(tokens))
	for token := range tokens {
		sorted = append(sorted, token)
	}
	sort.Strings(sorted)

	weighted := make([]string, len(sorted))
	for i, token := range sorted {
		weighted[i] = "((" + token + ":1.8))"
	}
	joined := strings.Join(weighted, ", ")

	base = strings.TrimSpace(base)
	if base != "" {
		return base + ", " + joined
	}
	return joined
}

func canonical(term string) string {
	return collapseSpaces.ReplaceAllString(strings.ToLower(strings.TrimSpace(term)), " ")
}

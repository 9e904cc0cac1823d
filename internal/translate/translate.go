// Package translate normalizes prompts to English before generation.
// Detection is intentionally narrow: a Russian UI language or Cyrillic
// text triggers a best-effort web translation; anything else passes
// through, and every failure falls back to the original prompt.
package translate

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/language"

	"easel/internal/logging"
)

const (
	defaultBaseURL = "https://translate.googleapis.com/translate_a/single"
	cacheSize      = 128
	requestTimeout = 5 * time.Second
)

var cyrillicRegex = regexp.MustCompile(`[А-Яа-яЁё]`)

// Translator caches prompt translations and calls the translation
// endpoint on misses.
type Translator struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]*list.Element
	order *list.List
}

type cacheEntry struct {
	text        string
	translation string
}

// Option customises translator construction.
type Option func(*Translator)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(t *Translator) {
		t.httpClient = httpClient
	}
}

// WithBaseURL overrides the translation endpoint.
func WithBaseURL(baseURL string) Option {
	return func(t *Translator) {
		t.baseURL = baseURL
	}
}

// NewTranslator constructs a translator with an empty cache.
func NewTranslator(logger *slog.Logger, opts ...Option) *Translator {
	translator := &Translator{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logging.NewComponentLogger(logger, "translate"),
		cache:      make(map[string]*list.Element),
		order:      list.New(),
	}
	for _, opt := range opts {
		opt(translator)
	}
	return translator
}

// NormalizePrompt returns the prompt translated to English when the UI
// language is Russian or the prompt contains Cyrillic text, otherwise
// unchanged.
func (t *Translator) NormalizePrompt(ctx context.Context, prompt, uiLanguage string) string {
	if prompt == "" {
		return prompt
	}
	if isRussian(uiLanguage) || cyrillicRegex.MatchString(prompt) {
		return t.ToEnglish(ctx, prompt)
	}
	return prompt
}

// ToEnglish translates text, consulting the cache first. Any failure
// returns the input unchanged.
func (t *Translator) ToEnglish(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	if cached, ok := t.lookup(text); ok {
		return cached
	}

	translated, err := t.request(ctx, text)
	if err != nil {
		t.logger.Debug("translation failed", logging.Error(err))
		return text
	}
	t.store(text, translated)
	return translated
}

func (t *Translator) request(ctx context.Context, text string) (string, error) {
	params := url.Values{
		"client": {"gtx"},
		"sl":     {"auto"},
		"tl":     {"en"},
		"dt":     {"t"},
		"q":      {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translate status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	translated, err := decodeSegments(raw)
	if err != nil {
		return "", err
	}
	if translated == "" {
		return text, nil
	}
	return translated, nil
}

// decodeSegments extracts the concatenated translation from the nested
// array body: [[["translated","source",...],...],...].
func decodeSegments(raw []byte) (string, error) {
	var payload []json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode translation body: %w", err)
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("empty translation body")
	}
	var segments [][]json.RawMessage
	if err := json.Unmarshal(payload[0], &segments); err != nil {
		return "", fmt.Errorf("decode translation segments: %w", err)
	}

	var builder strings.Builder
	for _, segment := range segments {
		if len(segment) == 0 {
			continue
		}
		var part string
		if err := json.Unmarshal(segment[0], &part); err == nil {
			builder.WriteString(part)
		}
	}
	return strings.TrimSpace(builder.String()), nil
}

func (t *Translator) lookup(text string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	element, ok := t.cache[text]
	if !ok {
		return "", false
	}
	t.order.MoveToBack(element)
	return element.Value.(*cacheEntry).translation, true
}

func (t *Translator) store(text, translation string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if element, ok := t.cache[text]; ok {
		element.Value.(*cacheEntry).translation = translation
		t.order.MoveToBack(element)
		return
	}
	t.cache[text] = t.order.PushBack(&cacheEntry{text: text, translation: translation})
	for len(t.cache) > cacheSize {
		oldest := t.order.Front()
		t.order.Remove(oldest)
		delete(t.cache, oldest.Value.(*cacheEntry).text)
	}
}

// isRussian reports whether the UI language tag resolves to Russian.
// Malformed tags fall back to a plain prefix check.
func isRussian(uiLanguage string) bool {
	if uiLanguage == "" {
		return false
	}
	if tag, err := language.Parse(uiLanguage); err == nil {
		base, _ := tag.Base()
		return base.String() == "ru"
	}
	return strings.HasPrefix(strings.ToLower(uiLanguage), "ru")
}

// Package parser turns raw composer API responses into product records.
//
// The endpoint answers a JSON document whose widgetStates object maps
// widget keys to JSON-encoded payloads. Product tiles live in the
// search-result and seller widgets; the exact key names vary between
// storefront layouts, so widgets are matched by substring.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ErrMalformed indicates the response is not valid JSON or lacks the
// expected composer shape. Pages failing this way are skipped, never
// retried.
type ErrMalformed struct {
	Err error
}

func (e ErrMalformed) Error() string {
	return fmt.Errorf("malformed response: %w", e.Err).Error()
}

func (e ErrMalformed) Unwrap() error {
	return e.Err
}

// ErrBlocked indicates the body is an anti-bot challenge page rather
// than real content. Distinct from ErrMalformed so the driver can apply
// blocking backoff instead of a blind skip.
type ErrBlocked struct {
	Signature string
}

func (e ErrBlocked) Error() string {
	return fmt.Sprintf("blocked response: matched %q", e.Signature)
}

// BlockClassifier reports whether a body matches a known blocking
// signature. Signatures are brittle and externally owned, so the
// classifier is pluggable.
type BlockClassifier func(body []byte) (signature string, blocked bool)

// DefaultBlockSignatures are the challenge-page markers observed on the
// storefront and its DDoS front ends.
var DefaultBlockSignatures = []string{
	"cloudflare",
	"ddos-guard",
	"доступ ограничен",
	"access denied",
	"checking your browser",
	"just a moment",
	"captcha",
	"подтвердите, что вы не робот",
	"are you a robot",
	"verify you are human",
	"bot detected",
	"security check",
	"проверка безопасности",
}

// SignatureClassifier builds a classifier from a marker list. Matching
// is case-insensitive over the whole body.
func SignatureClassifier(signatures []string) BlockClassifier {
	lowered := make([]string, len(signatures))
	for i, s := range signatures {
		lowered[i] = strings.ToLower(s)
	}
	return func(body []byte) (string, bool) {
		haystack := strings.ToLower(string(body))
		for _, sig := range lowered {
			if strings.Contains(haystack, sig) {
				return sig, true
			}
		}
		return "", false
	}
}

// RawProduct is one product tile as found in a widget: a
// field-heterogeneous mapping, since not every tile exposes every field.
type RawProduct map[string]any

// Page is the parsed outcome of one composer response.
type Page struct {
	Items   []RawProduct
	HasMore bool
}

// Parser decodes composer responses.
type Parser struct {
	classify BlockClassifier
}

// New builds a parser with the given block classifier; nil falls back
// to the default signature list.
func New(classify BlockClassifier) *Parser {
	if classify == nil {
		classify = SignatureClassifier(DefaultBlockSignatures)
	}
	return &Parser{classify: classify}
}

type composerResponse struct {
	WidgetStates map[string]json.RawMessage `json:"widgetStates"`
	NextPage     string                     `json:"nextPage"`
}

var widgetKeyPatterns = []string{"searchresult", "seller", "product", "tile"}

// ParsePage extracts the product tiles of one composer response.
// Returns ErrBlocked for challenge pages and ErrMalformed for anything
// else that does not decode into the composer shape. A document that
// decodes with a widgetStates object is trusted as real content, so
// tile text containing a signature word never trips the classifier;
// challenge pages are HTML or junk and always fail the decode.
func (p *Parser) ParsePage(raw []byte) (*Page, error) {
	var resp composerResponse
	decodeErr := json.Unmarshal(raw, &resp)

	if decodeErr != nil || resp.WidgetStates == nil {
		if sig, blocked := p.classify(raw); blocked {
			return nil, ErrBlocked{Signature: sig}
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			return nil, ErrMalformed{Err: fmt.Errorf("empty body")}
		}
		if decodeErr != nil {
			return nil, ErrMalformed{Err: decodeErr}
		}
		return nil, ErrMalformed{Err: fmt.Errorf("missing widgetStates object")}
	}

	var items []RawProduct
	for key, value := range resp.WidgetStates {
		if !matchesWidgetKey(key) {
			continue
		}
		widget, ok := decodeWidget(value)
		if !ok {
			continue
		}
		items = append(items, widgetItems(widget)...)
	}

	return &Page{
		Items:   items,
		HasMore: len(items) > 0 || resp.NextPage != "",
	}, nil
}

func matchesWidgetKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, pattern := range widgetKeyPatterns {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}

// decodeWidget handles both widget encodings: a JSON object, or a JSON
// string holding an escaped JSON object.
func decodeWidget(value json.RawMessage) (map[string]any, bool) {
	var widget map[string]any
	if err := json.Unmarshal(value, &widget); err == nil {
		return widget, true
	}

	var embedded string
	if err := json.Unmarshal(value, &embedded); err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(embedded), &widget); err != nil {
		return nil, false
	}
	return widget, true
}

// widgetItems finds the product array inside a widget payload. Tiles
// appear under items, products, or nested in state.items depending on
// the widget type.
func widgetItems(widget map[string]any) []RawProduct {
	candidates := anySlice(widget["items"])
	if candidates == nil {
		candidates = anySlice(widget["products"])
	}
	if candidates == nil {
		if state, ok := widget["state"].(map[string]any); ok {
			candidates = anySlice(state["items"])
		}
	}

	items := make([]RawProduct, 0, len(candidates))
	for _, candidate := range candidates {
		item, ok := candidate.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, RawProduct(item))
	}
	return items
}

func anySlice(v any) []any {
	s, ok := v.([]any)
	if !ok {
		return nil
	}
	return s
}

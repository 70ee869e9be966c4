package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func composerPayload(widgetKey string, items []map[string]any, nextPage string) []byte {
	widget := map[string]any{"items": items}
	widgetJSON, _ := json.Marshal(widget)

	// widgetStates values are JSON-encoded strings in real responses.
	states := map[string]string{widgetKey: string(widgetJSON)}
	payload := map[string]any{"widgetStates": states}
	if nextPage != "" {
		payload["nextPage"] = nextPage
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func tileItems(count, offset int) []map[string]any {
	items := make([]map[string]any, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, map[string]any{
			"sku":  fmt.Sprintf("%d", 1000+offset+i),
			"name": fmt.Sprintf("Product %d", offset+i),
			"link": fmt.Sprintf("/product/item-%d/", offset+i),
		})
	}
	return items
}

func TestParsePageExtractsItems(t *testing.T) {
	tests := []struct {
		name      string
		widgetKey string
		items     int
	}{
		{name: "search results widget", widgetKey: "searchResultsV2-252189-default-1", items: 3},
		{name: "seller widget", widgetKey: "webCurrentSeller-3427229-default-1", items: 2},
		{name: "tile widget", widgetKey: "productTile-12345-default-1", items: 1},
	}

	p := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := p.ParsePage(composerPayload(tt.widgetKey, tileItems(tt.items, 0), ""))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(page.Items) != tt.items {
				t.Fatalf("items=%d, want %d", len(page.Items), tt.items)
			}
			if !page.HasMore {
				t.Fatalf("expected HasMore for non-empty page")
			}
		})
	}
}

func TestParsePageIgnoresUnrelatedWidgets(t *testing.T) {
	p := New(nil)
	page, err := p.ParsePage(composerPayload("breadCrumbs-123-default-1", tileItems(4, 0), ""))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("items=%d, want 0 from unrelated widget", len(page.Items))
	}
}

func TestParsePageWidgetAsObject(t *testing.T) {
	// Some responses inline widget payloads as plain objects instead of
	// escaped strings.
	raw := []byte(`{"widgetStates":{"searchResultsV2-1":{"items":[{"sku":"42","name":"Inline"}]}}}`)
	p := New(nil)
	page, err := p.ParsePage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("items=%d, want 1", len(page.Items))
	}
}

func TestParsePageNestedStateItems(t *testing.T) {
	raw := []byte(`{"widgetStates":{"productTile-1":{"state":{"items":[{"id":7,"title":"Nested"}]}}}}`)
	p := New(nil)
	page, err := p.ParsePage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("items=%d, want 1", len(page.Items))
	}
}

func TestParsePageEmptyWithNextPage(t *testing.T) {
	p := New(nil)
	page, err := p.ParsePage(composerPayload("searchResultsV2-1", nil, "/seller/shop-123?page=2"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("items=%d, want 0", len(page.Items))
	}
	if !page.HasMore {
		t.Fatalf("nextPage should keep HasMore true")
	}
}

func TestParsePageMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html><body>regular page</body></html>"},
		{name: "empty body", body: ""},
		{name: "json without widgetStates", body: `{"layout":[]}`},
		{name: "truncated json", body: `{"widgetStates":{"searchResultsV2`},
	}

	p := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParsePage([]byte(tt.body))
			var malformed ErrMalformed
			if !errors.As(err, &malformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestParsePageBlockedNeverMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "cloudflare challenge", body: "<html>Checking your browser before accessing...</html>"},
		{name: "ddos guard", body: "<html><title>DDoS-Guard</title></html>"},
		{name: "russian denial", body: "<html>Доступ ограничен</html>"},
		{name: "captcha", body: `{"widgetStates":{}} CAPTCHA required`},
		{name: "robot check", body: "Подтвердите, что вы не робот"},
	}

	p := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParsePage([]byte(tt.body))
			var blocked ErrBlocked
			if !errors.As(err, &blocked) {
				t.Fatalf("expected ErrBlocked, got %v", err)
			}
			var malformed ErrMalformed
			if errors.As(err, &malformed) {
				t.Fatalf("blocked response must not classify as malformed")
			}
		})
	}
}

func TestParsePageSignatureWordsInTiles(t *testing.T) {
	// Product names may legitimately contain signature words; a valid
	// composer document must never be treated as a challenge page.
	items := []map[string]any{
		{"sku": "1", "name": "Captcha Solver Handbook"},
		{"sku": "2", "name": "Home Security Check Kit"},
	}

	p := New(nil)
	page, err := p.ParsePage(composerPayload("searchResultsV2-1", items, ""))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("items=%d, want 2", len(page.Items))
	}
}

func TestSignatureClassifierCustomList(t *testing.T) {
	classify := SignatureClassifier([]string{"custom-wall"})

	if _, blocked := classify([]byte("served by CUSTOM-WALL v2")); !blocked {
		t.Fatalf("custom signature should match case-insensitively")
	}
	if _, blocked := classify([]byte("checking your browser")); blocked {
		t.Fatalf("default signatures should not apply to a custom classifier")
	}
}

func TestParsePageItemCountMatchesEntries(t *testing.T) {
	for _, count := range []int{1, 5, 36} {
		t.Run(fmt.Sprintf("count_%d", count), func(t *testing.T) {
			p := New(nil)
			page, err := p.ParsePage(composerPayload("searchResultsV2-1", tileItems(count, 0), ""))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(page.Items) != count {
				t.Fatalf("items=%d, want %d", len(page.Items), count)
			}
		})
	}
}

func TestParsePageSkipsBrokenWidget(t *testing.T) {
	// One widget holds invalid embedded JSON, the other is fine; the
	// good one must still be extracted.
	states := map[string]any{
		"searchResultsV2-1": "{not valid json",
		"searchResultsV2-2": `{"items":[{"sku":"9","name":"Survivor"}]}`,
	}
	raw, _ := json.Marshal(map[string]any{"widgetStates": states})

	p := New(nil)
	page, err := p.ParsePage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("items=%d, want 1", len(page.Items))
	}
	if !strings.EqualFold(page.Items[0]["name"].(string), "Survivor") {
		t.Fatalf("unexpected item: %v", page.Items[0])
	}
}

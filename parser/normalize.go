package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ozontools/seller-export/models"
)

// Normalize maps a raw product tile into the canonical record shape.
// It is total: fields the tile does not expose come out empty, nothing
// here ever fails. Identifier presence is checked separately by
// ValidateProduct so the pipeline can count the drop.
func Normalize(raw RawProduct, baseURL string) *models.Product {
	link := stringField(raw, "link", "url")
	if link != "" && !strings.HasPrefix(link, "http") {
		link = strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(link, "/")
	}

	currentPrice, originalPrice := priceFields(raw["price"])

	return &models.Product{
		SKU:           stringField(raw, "sku", "id"),
		Name:          stringField(raw, "name", "title"),
		CurrentPrice:  currentPrice,
		OriginalPrice: originalPrice,
		Rating:        stringField(raw, "rating"),
		ReviewsCount:  stringField(raw, "reviewsCount", "reviews"),
		SellerName:    nestedField(raw, "seller", "name"),
		SellerINN:     nestedField(raw, "seller", "inn"),
		Brand:         stringField(raw, "brand"),
		Category:      stringField(raw, "category"),
		Link:          link,
		ImageURL:      imageField(raw),
	}
}

// ValidateProduct ensures the record carries the one required field.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.SKU) == "" {
		return fmt.Errorf("product missing sku")
	}
	return nil
}

// priceFields handles the two price encodings: an object with
// current/original keys, or a bare scalar.
func priceFields(v any) (current, original string) {
	switch price := v.(type) {
	case map[string]any:
		current = scalarString(firstPresent(price, "price", "current"))
		original = scalarString(firstPresent(price, "originalPrice", "original"))
	case string, float64, bool:
		current = scalarString(price)
	}
	return current, original
}

func imageField(raw RawProduct) string {
	for _, key := range []string{"image", "coverImage", "img"} {
		switch img := raw[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(img); trimmed != "" {
				return trimmed
			}
		case map[string]any:
			if src := scalarString(img["src"]); src != "" {
				return src
			}
		}
	}
	return ""
}

func stringField(raw RawProduct, keys ...string) string {
	for _, key := range keys {
		if s := scalarString(raw[key]); s != "" {
			return s
		}
	}
	return ""
}

func nestedField(raw RawProduct, objectKey, fieldKey string) string {
	obj, ok := raw[objectKey].(map[string]any)
	if !ok {
		return ""
	}
	return scalarString(obj[fieldKey])
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// scalarString renders a decoded JSON scalar as trimmed text. Numbers
// print without a trailing ".0" since SKUs and review counts arrive as
// JSON numbers.
func scalarString(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(value)
	default:
		return ""
	}
}

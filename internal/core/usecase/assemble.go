package usecase

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/catalog-assistant/internal/core/domain"
)

// DefaultContextMaxChars bounds the context block handed to the answer model.
const DefaultContextMaxChars = 12000

// AssembleContext renders records into one numbered line each, in rank order.
// Lines that would push the block past maxChars are dropped from the tail.
func AssembleContext(records []domain.ProductRecord, maxChars int) string {
	block, _ := assembleContext(records, maxChars)
	return block
}

// assembleContext also reports how many leading records the block covers.
// A first line longer than maxChars is cut rather than dropped, so the block
// is never empty while records exist.
func assembleContext(records []domain.ProductRecord, maxChars int) (string, int) {
	if maxChars <= 0 {
		maxChars = DefaultContextMaxChars
	}

	var b strings.Builder
	rendered := 0
	for idx, rec := range records {
		line := fmt.Sprintf("[%d] %s", idx+1, describeProduct(rec))
		if rendered > 0 {
			line = "\n" + line
		}
		if b.Len()+len(line) > maxChars {
			if rendered > 0 {
				break
			}
			line = truncateUTF8(line, maxChars)
		}
		b.WriteString(line)
		rendered++
	}
	return b.String(), rendered
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func describeProduct(rec domain.ProductRecord) string {
	fields := []struct {
		label string
		value domain.Optional
	}{
		{"product_name", rec.ProductName},
		{"company_name", rec.CompanyName},
		{"SKU", rec.SKU},
		{"UPC", rec.UPC},
		{"price", rec.Price},
		{"Cost per pound", rec.CostPerPound},
		{"Unit", rec.Unit},
		{"Weight", rec.WeightLb},
		{"standard", rec.Standard},
		{"image_url", rec.ImageURL},
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.label+": "+singleLine(f.value.Or(domain.MissingValue)))
	}
	return strings.Join(parts, ". ")
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func singleLine(s string) string {
	return lineBreaks.Replace(s)
}

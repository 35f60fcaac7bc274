package domain

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// MissingValue is rendered in place of absent record fields.
const MissingValue = "N/A"

// Optional is a verbatim catalog value that may be absent from index metadata.
type Optional struct {
	value string
	set   bool
}

func Some(value string) Optional {
	return Optional{value: value, set: true}
}

func None() Optional {
	return Optional{}
}

func (o Optional) Get() (string, bool) {
	return o.value, o.set
}

func (o Optional) IsSet() bool {
	return o.set
}

// Or returns the value or the placeholder when absent.
func (o Optional) Or(placeholder string) string {
	if !o.set {
		return placeholder
	}
	return o.value
}

func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Optional) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = None()
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = OptionalFromAny(raw)
	return nil
}

// OptionalFromAny converts a decoded metadata value into its verbatim text.
func OptionalFromAny(v any) Optional {
	switch val := v.(type) {
	case nil:
		return None()
	case string:
		return Some(val)
	case float64:
		return Some(strconv.FormatFloat(val, 'f', -1, 64))
	case float32:
		return Some(strconv.FormatFloat(float64(val), 'f', -1, 32))
	case int:
		return Some(strconv.Itoa(val))
	case int64:
		return Some(strconv.FormatInt(val, 10))
	case bool:
		return Some(strconv.FormatBool(val))
	case json.Number:
		return Some(val.String())
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return None()
		}
		return Some(string(b))
	}
}

// ProductRecord is one catalog entry as stored in the vector index metadata.
type ProductRecord struct {
	ID           string   `json:"id,omitempty"`
	ProductName  Optional `json:"product_name"`
	CompanyName  Optional `json:"company_name"`
	Price        Optional `json:"price"`
	Unit         Optional `json:"unit"`
	CostPerPound Optional `json:"cost_per_pound"`
	Standard     Optional `json:"standard"`
	WeightLb     Optional `json:"weight_lb"`
	SKU          Optional `json:"sku"`
	UPC          Optional `json:"upc"`
	ImageURL     Optional `json:"image_url"`
	Score        float64  `json:"score"`
}

// Metadata keys as written by the ingestion job. The legacy catalog export used a
// different spelling for several of them; both are read.
const (
	KeyProductName  = "product_name"
	KeyCompanyName  = "company_name"
	KeyPrice        = "price"
	KeyUnit         = "unit"
	KeyCostPerPound = "cost_per_pound"
	KeyStandard     = "standard"
	KeyWeightLb     = "weight_lb"
	KeySKU          = "sku"
	KeyUPC          = "upc"
	KeyImageURL     = "image_url"
)

var legacyMetadataKeys = map[string]string{
	"SKU":            KeySKU,
	"UPC":            KeyUPC,
	"Unit":           KeyUnit,
	"Cost per pound": KeyCostPerPound,
	"weight(pound)":  KeyWeightLb,
	"image_path":     KeyImageURL,
}

// CanonicalMetadataKey maps legacy catalog keys onto the current ones.
func CanonicalMetadataKey(key string) string {
	if canonical, ok := legacyMetadataKeys[key]; ok {
		return canonical
	}
	return key
}

// MetadataKeyAliases returns the canonical key followed by any legacy
// spellings that map onto it.
func MetadataKeyAliases(canonical string) []string {
	out := []string{canonical}
	for legacy, key := range legacyMetadataKeys {
		if key == canonical {
			out = append(out, legacy)
		}
	}
	sort.Strings(out[1:])
	return out
}

// ProductFromMetadata builds a record from a decoded metadata payload.
// Missing keys stay unset; unknown keys are ignored.
func ProductFromMetadata(id string, metadata map[string]any, score float64) ProductRecord {
	rec := ProductRecord{ID: id, Score: score}
	for key, value := range metadata {
		opt := OptionalFromAny(value)
		if s, ok := opt.Get(); ok && strings.TrimSpace(s) == "" {
			opt = None()
		}
		switch CanonicalMetadataKey(key) {
		case KeyProductName:
			rec.ProductName = opt
		case KeyCompanyName:
			rec.CompanyName = opt
		case KeyPrice:
			rec.Price = opt
		case KeyUnit:
			rec.Unit = opt
		case KeyCostPerPound:
			rec.CostPerPound = opt
		case KeyStandard:
			rec.Standard = opt
		case KeyWeightLb:
			rec.WeightLb = opt
		case KeySKU:
			rec.SKU = opt
		case KeyUPC:
			rec.UPC = opt
		case KeyImageURL:
			rec.ImageURL = opt
		}
	}
	return rec
}

// Field returns the value for a canonical metadata key.
func (r ProductRecord) Field(key string) Optional {
	switch CanonicalMetadataKey(key) {
	case KeyProductName:
		return r.ProductName
	case KeyCompanyName:
		return r.CompanyName
	case KeyPrice:
		return r.Price
	case KeyUnit:
		return r.Unit
	case KeyCostPerPound:
		return r.CostPerPound
	case KeyStandard:
		return r.Standard
	case KeyWeightLb:
		return r.WeightLb
	case KeySKU:
		return r.SKU
	case KeyUPC:
		return r.UPC
	case KeyImageURL:
		return r.ImageURL
	default:
		return None()
	}
}

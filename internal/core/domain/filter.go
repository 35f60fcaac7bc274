package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FilterField is a catalog attribute the filter extractor may constrain.
type FilterField string

const (
	FieldPrice        FilterField = "price"
	FieldCompanyName  FilterField = "company_name"
	FieldUnit         FilterField = "unit"
	FieldCostPerPound FilterField = "cost_per_pound"
	FieldStandard     FilterField = "standard"
	FieldWeightLb     FilterField = "weight_lb"
	FieldImagePath    FilterField = "image_path"
)

// FilterFields lists the closed schema in prompt order.
var FilterFields = []FilterField{
	FieldPrice,
	FieldCompanyName,
	FieldUnit,
	FieldCostPerPound,
	FieldStandard,
	FieldWeightLb,
	FieldImagePath,
}

var filterFieldAliases = map[string]FilterField{
	"unit":           FieldUnit,
	"cost per pound": FieldCostPerPound,
	"weight(pound)":  FieldWeightLb,
	"weight":         FieldWeightLb,
}

// ParseFilterField resolves a field name, including legacy catalog spellings.
func ParseFilterField(name string) (FilterField, bool) {
	trimmed := strings.TrimSpace(name)
	for _, f := range FilterFields {
		if string(f) == trimmed {
			return f, true
		}
	}
	if f, ok := filterFieldAliases[strings.ToLower(trimmed)]; ok {
		return f, true
	}
	return "", false
}

func (f FilterField) Numeric() bool {
	switch f {
	case FieldPrice, FieldCostPerPound, FieldWeightLb:
		return true
	default:
		return false
	}
}

// MetadataKey is the payload key the field is stored under.
func (f FilterField) MetadataKey() string {
	if f == FieldImagePath {
		return KeyImageURL
	}
	return string(f)
}

type Operator string

const (
	OpEq  Operator = "eq"
	OpNe  Operator = "ne"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpIn  Operator = "in"
)

func ParseOperator(raw string) (Operator, bool) {
	op := Operator(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "$")))
	switch op {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn:
		return op, true
	default:
		return "", false
	}
}

func (op Operator) Ordering() bool {
	switch op {
	case OpLt, OpLte, OpGt, OpGte:
		return true
	default:
		return false
	}
}

// FilterValue is a scalar or list operand. Exactly one of the fields is used.
type FilterValue struct {
	Text    string
	Number  float64
	Numeric bool
	List    []string
}

func TextValue(s string) FilterValue        { return FilterValue{Text: s} }
func NumberValue(n float64) FilterValue     { return FilterValue{Number: n, Numeric: true} }
func ListValue(items ...string) FilterValue { return FilterValue{List: items} }

func (v FilterValue) String() string {
	switch {
	case len(v.List) > 0:
		return "[" + strings.Join(v.List, ", ") + "]"
	case v.Numeric:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	default:
		return v.Text
	}
}

func (v FilterValue) MarshalJSON() ([]byte, error) {
	switch {
	case len(v.List) > 0:
		return json.Marshal(v.List)
	case v.Numeric:
		return json.Marshal(v.Number)
	default:
		return json.Marshal(v.Text)
	}
}

type Condition struct {
	Field    FilterField `json:"field"`
	Operator Operator    `json:"operator"`
	Value    FilterValue `json:"value"`
}

func (c Condition) Validate() error {
	if _, ok := ParseFilterField(string(c.Field)); !ok {
		return fmt.Errorf("unknown filter field %q", c.Field)
	}
	if _, ok := ParseOperator(string(c.Operator)); !ok {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}
	if c.Operator == OpIn {
		if c.Field.Numeric() {
			return fmt.Errorf("field %s: operator in requires a text field", c.Field)
		}
		if len(c.Value.List) == 0 {
			return fmt.Errorf("field %s: operator in requires a non-empty list", c.Field)
		}
		return nil
	}
	if len(c.Value.List) > 0 {
		return fmt.Errorf("field %s: operator %s takes a scalar", c.Field, c.Operator)
	}
	if c.Operator.Ordering() {
		if !c.Field.Numeric() {
			return fmt.Errorf("field %s: operator %s requires a numeric field", c.Field, c.Operator)
		}
		if !c.Value.Numeric {
			return fmt.Errorf("field %s: operator %s requires a number", c.Field, c.Operator)
		}
	}
	if c.Field.Numeric() && !c.Value.Numeric {
		return fmt.Errorf("field %s requires a number", c.Field)
	}
	if c.Value.Numeric && (math.IsNaN(c.Value.Number) || math.IsInf(c.Value.Number, 0)) {
		return fmt.Errorf("field %s: value is not finite", c.Field)
	}
	return nil
}

// FilterPredicate is a conjunction of conditions over the closed field schema.
type FilterPredicate struct {
	Conditions []Condition `json:"conditions"`
}

func (p *FilterPredicate) Empty() bool {
	return p == nil || len(p.Conditions) == 0
}

func (p *FilterPredicate) Validate() error {
	if p == nil {
		return nil
	}
	for _, c := range p.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *FilterPredicate) String() string {
	if p.Empty() {
		return ""
	}
	parts := make([]string, 0, len(p.Conditions))
	for _, c := range p.Conditions {
		parts = append(parts, fmt.Sprintf("%s %s %s", c.Field, c.Operator, c.Value))
	}
	return strings.Join(parts, " AND ")
}

// ParseFilterPredicate decodes the {field: {op: value}} grammar. Conditions on
// fields outside the schema are returned in rejected, never in the predicate.
// A malformed condition on a known field fails the whole parse.
func ParseFilterPredicate(raw map[string]any) (pred *FilterPredicate, rejected []string, err error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &FilterPredicate{}
	for _, key := range keys {
		field, ok := ParseFilterField(key)
		if !ok {
			rejected = append(rejected, key)
			continue
		}

		ops, isMap := raw[key].(map[string]any)
		if !isMap {
			// Bare value shorthand: {"company_name": "Tillamook"}.
			ops = map[string]any{string(OpEq): raw[key]}
		}

		opKeys := make([]string, 0, len(ops))
		for k := range ops {
			opKeys = append(opKeys, k)
		}
		sort.Strings(opKeys)

		for _, opKey := range opKeys {
			op, ok := ParseOperator(opKey)
			if !ok {
				return nil, rejected, WrapError(ErrFilterParse, "parse filter", fmt.Errorf("field %s: unknown operator %q", field, opKey))
			}
			value, err := parseFilterValue(field, op, ops[opKey])
			if err != nil {
				return nil, rejected, WrapError(ErrFilterParse, "parse filter", err)
			}
			cond := Condition{Field: field, Operator: op, Value: value}
			if err := cond.Validate(); err != nil {
				return nil, rejected, WrapError(ErrFilterParse, "parse filter", err)
			}
			out.Conditions = append(out.Conditions, cond)
		}
	}

	if len(out.Conditions) == 0 {
		return nil, rejected, nil
	}
	return out, rejected, nil
}

func parseFilterValue(field FilterField, op Operator, raw any) (FilterValue, error) {
	if op == OpIn {
		items, ok := raw.([]any)
		if !ok {
			return FilterValue{}, fmt.Errorf("field %s: operator in requires a list", field)
		}
		list := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := OptionalFromAny(item).Get()
			if !ok || strings.TrimSpace(s) == "" {
				continue
			}
			list = append(list, s)
		}
		return ListValue(list...), nil
	}

	if field.Numeric() {
		n, ok := numberFromAny(raw)
		if !ok {
			return FilterValue{}, fmt.Errorf("field %s: value %v is not a number", field, raw)
		}
		return NumberValue(n), nil
	}

	s, ok := raw.(string)
	if !ok {
		s, ok = OptionalFromAny(raw).Get()
	}
	s = strings.TrimSpace(s)
	if !ok || s == "" {
		return FilterValue{}, fmt.Errorf("field %s: empty value", field)
	}
	return TextValue(s), nil
}

// numberFromAny accepts JSON numbers and price-like strings such as "$20" or "5 lb".
func numberFromAny(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		n, err := v.Float64()
		return n, err == nil
	case string:
		return ParseNumber(v)
	default:
		return 0, false
	}
}

// ParseNumber extracts the leading decimal number from catalog-style text.
func ParseNumber(s string) (float64, bool) {
	cleaned := strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(s))
	end, dot := 0, false
	for end < len(cleaned) {
		c := cleaned[end]
		if (c >= '0' && c <= '9') || (end == 0 && c == '-') || (c == '.' && !dot) {
			dot = dot || c == '.'
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseFloat(cleaned[:end], 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FilterExample is a worked phrase-to-filter example shown to the extractor model.
type FilterExample struct {
	Query  string         `yaml:"query" json:"query"`
	Filter map[string]any `yaml:"filter" json:"filter"`
}

// DefaultFilterExamples mirror the phrasing users most often reach for.
func DefaultFilterExamples() []FilterExample {
	return []FilterExample{
		{Query: "Show me cheeses under $20", Filter: map[string]any{"price": map[string]any{"$lt": 20}}},
		{Query: "Cheeses by Tillamook", Filter: map[string]any{"company_name": map[string]any{"$eq": "Tillamook"}}},
		{Query: "Show me cheeses under 5 pounds", Filter: map[string]any{"weight_lb": map[string]any{"$lt": 5}}},
	}
}

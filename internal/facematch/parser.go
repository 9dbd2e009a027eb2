package facematch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidProbeFormat is returned when a probe is not a sequence of numbers.
	ErrInvalidProbeFormat = errors.New("invalid probe format")
	// ErrInvalidDescriptorFormat is returned when a stored payload matches no known shape.
	ErrInvalidDescriptorFormat = errors.New("invalid descriptor format")
)

// PayloadKind identifies the shape of a descriptor payload.
type PayloadKind int

const (
	KindInvalid PayloadKind = iota
	KindNestedArray
	KindFlatArray
	KindEncodedString
	KindKeyedMap
)

func (k PayloadKind) String() string {
	switch k {
	case KindNestedArray:
		return "nested_array"
	case KindFlatArray:
		return "flat_array"
	case KindEncodedString:
		return "encoded_string"
	case KindKeyedMap:
		return "keyed_map"
	default:
		return "invalid"
	}
}

// Classify reports which payload shape raw has. JSON documents ([]byte or
// json.RawMessage) are decoded before classification.
func Classify(raw any) PayloadKind {
	switch v := raw.(type) {
	case json.RawMessage:
		return classifyJSON(v)
	case []byte:
		return classifyJSON(v)
	case [][]float64:
		return KindNestedArray
	case []float64:
		if len(v) == 0 {
			return KindInvalid
		}
		return KindFlatArray
	case []float32:
		if len(v) == 0 {
			return KindInvalid
		}
		return KindFlatArray
	case []any:
		if len(v) == 0 {
			return KindInvalid
		}
		if isSequence(v[0]) {
			return KindNestedArray
		}
		if _, ok := toFloat(v[0]); ok {
			return KindFlatArray
		}
		return KindInvalid
	case string:
		return KindEncodedString
	case map[string]any:
		return KindKeyedMap
	default:
		return KindInvalid
	}
}

func classifyJSON(data []byte) PayloadKind {
	decoded, err := decodeJSON(data)
	if err != nil {
		return KindInvalid
	}
	return Classify(decoded)
}

// ParseDescriptors returns every usable descriptor in raw. An empty result means the
// payload held nothing usable; it is never an error for the caller.
func ParseDescriptors(raw any) []FeatureVector {
	vectors, err := DecodeDescriptors(raw)
	if err != nil {
		return nil
	}
	return vectors
}

// DecodeDescriptors is ParseDescriptors with the failure reason. Errors wrap
// ErrInvalidDescriptorFormat.
func DecodeDescriptors(raw any) ([]FeatureVector, error) {
	switch v := raw.(type) {
	case json.RawMessage:
		return decodeJSONDescriptors(v)
	case []byte:
		return decodeJSONDescriptors(v)
	}

	switch kind := Classify(raw); kind {
	case KindNestedArray:
		return decodeNested(raw)
	case KindFlatArray:
		values, ok := numbers(raw)
		if !ok {
			return nil, fmt.Errorf("%w: flat array holds non-numeric values", ErrInvalidDescriptorFormat)
		}
		return []FeatureVector{Normalize(values)}, nil
	case KindEncodedString:
		return decodeEncoded(raw.(string))
	case KindKeyedMap:
		return decodeKeyed(raw.(map[string]any))
	default:
		return nil, fmt.Errorf("%w: unsupported payload %T", ErrInvalidDescriptorFormat, raw)
	}
}

// ParseProbe converts a submitted probe into a normalized descriptor. Any length is
// accepted; anything other than a sequence of numbers yields ErrInvalidProbeFormat.
func ParseProbe(raw any) (FeatureVector, error) {
	switch v := raw.(type) {
	case json.RawMessage:
		return parseProbeJSON(v)
	case []byte:
		return parseProbeJSON(v)
	case nil:
		return FeatureVector{}, ErrInvalidProbeFormat
	}
	if !isSequence(raw) {
		return FeatureVector{}, ErrInvalidProbeFormat
	}
	values, ok := numbers(raw)
	if !ok {
		return FeatureVector{}, ErrInvalidProbeFormat
	}
	return Normalize(values), nil
}

func parseProbeJSON(data []byte) (FeatureVector, error) {
	decoded, err := decodeJSON(data)
	if err != nil {
		return FeatureVector{}, ErrInvalidProbeFormat
	}
	return ParseProbe(decoded)
}

func decodeJSONDescriptors(data []byte) ([]FeatureVector, error) {
	decoded, err := decodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptorFormat, err)
	}
	return DecodeDescriptors(decoded)
}

func decodeNested(raw any) ([]FeatureVector, error) {
	if typed, ok := raw.([][]float64); ok {
		out := make([]FeatureVector, 0, len(typed))
		for _, inner := range typed {
			out = append(out, Normalize(inner))
		}
		return out, nil
	}

	outer := raw.([]any)
	out := make([]FeatureVector, 0, len(outer))
	for i, inner := range outer {
		if !isSequence(inner) {
			return nil, fmt.Errorf("%w: element %d is not an array", ErrInvalidDescriptorFormat, i)
		}
		values, ok := numbers(inner)
		if !ok {
			return nil, fmt.Errorf("%w: element %d holds non-numeric values", ErrInvalidDescriptorFormat, i)
		}
		out = append(out, Normalize(values))
	}
	return out, nil
}

func decodeEncoded(s string) ([]FeatureVector, error) {
	decoded, err := decodeJSON([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: encoded string: %v", ErrInvalidDescriptorFormat, err)
	}
	switch kind := Classify(decoded); kind {
	case KindNestedArray, KindFlatArray:
		return DecodeDescriptors(decoded)
	default:
		return nil, fmt.Errorf("%w: encoded string holds %s", ErrInvalidDescriptorFormat, kind)
	}
}

func decodeKeyed(m map[string]any) ([]FeatureVector, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: empty map", ErrInvalidDescriptorFormat)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]FeatureVector, 0, len(keys))
	for _, k := range keys {
		if !isSequence(m[k]) {
			return nil, fmt.Errorf("%w: key %q is not an array", ErrInvalidDescriptorFormat, k)
		}
		values, ok := flatten(m[k], nil)
		if !ok {
			return nil, fmt.Errorf("%w: key %q holds non-numeric values", ErrInvalidDescriptorFormat, k)
		}
		out = append(out, Normalize(values))
	}
	return out, nil
}

func decodeJSON(data []byte) (any, error) {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func isSequence(v any) bool {
	switch v.(type) {
	case []any, []float64, []float32, [][]float64:
		return true
	}
	return false
}

// numbers converts a flat sequence into float64 values.
func numbers(v any) ([]float64, bool) {
	switch s := v.(type) {
	case []float64:
		return s, true
	case []float32:
		out := make([]float64, len(s))
		for i, x := range s {
			out[i] = float64(x)
		}
		return out, true
	case []any:
		out := make([]float64, 0, len(s))
		for _, e := range s {
			f, ok := toFloat(e)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	}
	return nil, false
}

// flatten appends every number in a possibly nested sequence to out, depth first.
func flatten(v any, out []float64) ([]float64, bool) {
	switch s := v.(type) {
	case []any:
		for _, e := range s {
			if isSequence(e) {
				var ok bool
				if out, ok = flatten(e, out); !ok {
					return nil, false
				}
				continue
			}
			f, ok := toFloat(e)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	case [][]float64:
		for _, inner := range s {
			out = append(out, inner...)
		}
		return out, true
	default:
		values, ok := numbers(v)
		if !ok {
			return nil, false
		}
		return append(out, values...), true
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

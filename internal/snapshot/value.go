package snapshot

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ValueKind discriminates the variants of Value.
type ValueKind string

const (
	KindString ValueKind = "String"
	KindBool   ValueKind = "Bool"
	KindNumber ValueKind = "Number"
	KindArray  ValueKind = "Array"
	KindMap    ValueKind = "Map"
)

// Value is a tagged variant over the property types the engine knows
// about. The zero Value is not valid; construct values through the
// String/Bool/Number/Array/Map helpers or UnmarshalJSON.
type Value struct {
	Kind ValueKind

	Str  string
	Num  float64
	Flag bool
	Arr  []Value
	Map  map[string]Value
}

func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Flag: b} }
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func Array(vs []Value) Value { return Value{Kind: KindArray, Arr: vs} }
func Map(m map[string]Value) Value {
	return Value{Kind: KindMap, Map: m}
}

// Equal reports deep structural equality. NaN is not equal to anything,
// matching float semantics.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindBool:
		return v.Flag == other.Flag
	case KindNumber:
		return v.Num == other.Num
	case KindArray:
		if len(v.Arr) != len(other.Arr) {
			return false
		}
		for i := range v.Arr {
			if !v.Arr[i].Equal(other.Arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for k, a := range v.Map {
			b, ok := other.Map[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// wireValue is the explicit {"type": ..., "value": ...} encoding.
type wireValue struct {
	Type  ValueKind       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON always emits the explicit tagged form so clients never
// have to guess at a number's intended kind.
func (v Value) MarshalJSON() ([]byte, error) {
	var inner any
	switch v.Kind {
	case KindString:
		inner = v.Str
	case KindBool:
		inner = v.Flag
	case KindNumber:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return nil, fmt.Errorf("cannot encode non-finite number value")
		}
		inner = v.Num
	case KindArray:
		if v.Arr == nil {
			inner = []Value{}
		} else {
			inner = v.Arr
		}
	case KindMap:
		if v.Map == nil {
			inner = map[string]Value{}
		} else {
			inner = v.Map
		}
	default:
		return nil, fmt.Errorf("cannot encode value of unknown kind %q", v.Kind)
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.Kind, Value: raw})
}

// UnmarshalJSON accepts both the explicit tagged form and ambiguous
// bare JSON values (string, bool, number, array, object). Sidecar and
// project files use the ambiguous form almost exclusively.
func (v *Value) UnmarshalJSON(data []byte) error {
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if obj, ok := probe.(map[string]any); ok {
		if _, hasType := obj["type"]; hasType {
			if _, hasValue := obj["value"]; hasValue && len(obj) == 2 {
				var wire wireValue
				if err := json.Unmarshal(data, &wire); err != nil {
					return err
				}
				return v.decodeTagged(wire)
			}
		}
	}
	decoded, err := FromAny(probe)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func (v *Value) decodeTagged(wire wireValue) error {
	switch wire.Type {
	case KindString:
		var s string
		if err := json.Unmarshal(wire.Value, &s); err != nil {
			return fmt.Errorf("decode String value: %w", err)
		}
		*v = String(s)
	case KindBool:
		var b bool
		if err := json.Unmarshal(wire.Value, &b); err != nil {
			return fmt.Errorf("decode Bool value: %w", err)
		}
		*v = Bool(b)
	case KindNumber:
		var n float64
		if err := json.Unmarshal(wire.Value, &n); err != nil {
			return fmt.Errorf("decode Number value: %w", err)
		}
		*v = Number(n)
	case KindArray:
		var vs []Value
		if err := json.Unmarshal(wire.Value, &vs); err != nil {
			return fmt.Errorf("decode Array value: %w", err)
		}
		*v = Array(vs)
	case KindMap:
		var m map[string]Value
		if err := json.Unmarshal(wire.Value, &m); err != nil {
			return fmt.Errorf("decode Map value: %w", err)
		}
		*v = Map(m)
	default:
		return fmt.Errorf("unknown value type %q", wire.Type)
	}
	return nil
}

// FromAny converts a decoded generic JSON value (the shape ojg and
// encoding/json produce) into a Value.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case int64:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case nil:
		return Value{}, fmt.Errorf("null is not a valid property value")
	case []any:
		arr := make([]Value, 0, len(t))
		for i, elem := range t {
			v, err := FromAny(elem)
			if err != nil {
				return Value{}, fmt.Errorf("array element %d: %w", i, err)
			}
			arr = append(arr, v)
		}
		return Array(arr), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := FromAny(t[k])
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			m[k] = v
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported property value of type %T", raw)
	}
}

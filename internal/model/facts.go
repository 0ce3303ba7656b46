package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type FactKind int

const (
	FactNull FactKind = iota
	FactString
	FactNumber
	FactBool
	FactMap
	FactList
)

// Fact is one node of a nested JSON-like value.
type Fact struct {
	Kind FactKind
	Str  string
	Num  float64
	Bool bool
	Map  Facts
	List []Fact
}

type Facts map[string]Fact

func StringFact(s string) Fact { return Fact{Kind: FactString, Str: s} }
func NumberFact(n float64) Fact { return Fact{Kind: FactNumber, Num: n} }
func BoolFact(b bool) Fact { return Fact{Kind: FactBool, Bool: b} }
func MapFact(m Facts) Fact { return Fact{Kind: FactMap, Map: m} }
func ListFact(items ...Fact) Fact { return Fact{Kind: FactList, List: items} }

// FactOf converts a value decoded by encoding/json into a Fact.
func FactOf(v any) Fact {
	switch t := v.(type) {
	case nil:
		return Fact{}
	case string:
		return StringFact(t)
	case float64:
		return NumberFact(t)
	case int:
		return NumberFact(float64(t))
	case int64:
		return NumberFact(float64(t))
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return StringFact(t.String())
		}
		return NumberFact(n)
	case bool:
		return BoolFact(t)
	case map[string]any:
		return MapFact(FactsOf(t))
	case []any:
		items := make([]Fact, 0, len(t))
		for _, item := range t {
			items = append(items, FactOf(item))
		}
		return ListFact(items...)
	case Fact:
		return t
	case Facts:
		return MapFact(t)
	default:
		return StringFact(fmt.Sprint(t))
	}
}

func FactsOf(m map[string]any) Facts {
	out := make(Facts, len(m))
	for k, v := range m {
		out[k] = FactOf(v)
	}
	return out
}

func (f Fact) Value() any {
	switch f.Kind {
	case FactString:
		return f.Str
	case FactNumber:
		return f.Num
	case FactBool:
		return f.Bool
	case FactMap:
		return f.Map.Values()
	case FactList:
		out := make([]any, 0, len(f.List))
		for _, item := range f.List {
			out = append(out, item.Value())
		}
		return out
	}
	return nil
}

func (fs Facts) Values() map[string]any {
	out := make(map[string]any, len(fs))
	for k, v := range fs {
		out[k] = v.Value()
	}
	return out
}

// String renders scalars the way they appear in JSON; maps and lists render as JSON.
func (f Fact) String() string {
	switch f.Kind {
	case FactString:
		return f.Str
	case FactNumber:
		return strconv.FormatFloat(f.Num, 'f', -1, 64)
	case FactBool:
		return strconv.FormatBool(f.Bool)
	case FactNull:
		return ""
	}
	b, _ := json.Marshal(f)
	return string(b)
}

// Lookup walks path through nested maps. A missing step yields ok=false; the
// walk stops at the first node that is not a map and returns that node.
func (fs Facts) Lookup(path []string) (Fact, bool) {
	if len(path) == 0 || fs == nil {
		return Fact{}, false
	}
	node, ok := fs[path[0]]
	if !ok {
		return Fact{}, false
	}
	if len(path) == 1 {
		return node, true
	}
	if node.Kind != FactMap {
		return node, true
	}
	return node.Map.Lookup(path[1:])
}

func (f Fact) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Value())
}

func (f *Fact) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FactOf(v)
	return nil
}

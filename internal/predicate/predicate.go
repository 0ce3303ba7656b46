// Package predicate holds a storage-independent boolean filter over records.
// Storage backends render it into their own query syntax; Eval runs it in process.
package predicate

import (
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

type Field string

const (
	FieldTenantID  Field = "tenantId"
	FieldID        Field = "id"
	FieldTriggerID Field = "triggerId"
	FieldCategory  Field = "category"
	FieldSeverity  Field = "severity"
	FieldStatus    Field = "status"
	FieldEventType Field = "eventType"
	FieldKind      Field = "kind"
	FieldCTime     Field = "ctime"
	FieldSTime     Field = "stime"
)

type Node interface {
	node()
}

type True struct{}

type And struct{ Nodes []Node }

type Or struct{ Nodes []Node }

type Not struct{ Node Node }

// In matches when the field equals any of Values.
type In struct {
	Field  Field
	Values []string
}

// Range is an inclusive bound on a numeric field. A nil bound is open.
type Range struct {
	Field Field
	Min   *int64
	Max   *int64
}

type TagExists struct{ Key string }

type TagEquals struct{ Key, Value string }

// TagMatches is a full match of Pattern against the value of tag Key.
type TagMatches struct{ Key, Pattern string }

func (True) node()       {}
func (And) node()        {}
func (Or) node()         {}
func (Not) node()        {}
func (In) node()         {}
func (Range) node()      {}
func (TagExists) node()  {}
func (TagEquals) node()  {}
func (TagMatches) node() {}

// AllOf joins nodes with AND, dropping True and nil and flattening nested Ands.
func AllOf(nodes ...Node) Node {
	var out []Node
	for _, n := range nodes {
		switch t := n.(type) {
		case nil, True:
		case And:
			out = append(out, t.Nodes...)
		default:
			out = append(out, n)
		}
	}
	switch len(out) {
	case 0:
		return True{}
	case 1:
		return out[0]
	}
	return And{Nodes: out}
}

// AnyOf joins nodes with OR. An empty input yields nil so callers can skip it.
func AnyOf(nodes ...Node) Node {
	var out []Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if o, ok := n.(Or); ok {
			out = append(out, o.Nodes...)
			continue
		}
		out = append(out, n)
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return Or{Nodes: out}
}

// Between bounds field to [from, to]; a zero bound is left open.
func Between(field Field, from, to int64) Node {
	r := Range{Field: field}
	if from > 0 {
		v := from
		r.Min = &v
	}
	if to > 0 {
		v := to
		r.Max = &v
	}
	if r.Min == nil && r.Max == nil {
		return nil
	}
	return r
}

// Target is a record seen through the fields a predicate can test.
type Target interface {
	Attr(f Field) string
	Num(f Field) int64
	Tag(key string) (string, bool)
}

func Eval(n Node, t Target) bool {
	switch p := n.(type) {
	case nil, True:
		return true
	case And:
		for _, c := range p.Nodes {
			if !Eval(c, t) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range p.Nodes {
			if Eval(c, t) {
				return true
			}
		}
		return false
	case Not:
		return !Eval(p.Node, t)
	case In:
		v := t.Attr(p.Field)
		for _, want := range p.Values {
			if v == want {
				return true
			}
		}
		return false
	case Range:
		v := t.Num(p.Field)
		if p.Min != nil && v < *p.Min {
			return false
		}
		if p.Max != nil && v > *p.Max {
			return false
		}
		return true
	case TagExists:
		_, ok := t.Tag(p.Key)
		return ok
	case TagEquals:
		v, ok := t.Tag(p.Key)
		return ok && v == p.Value
	case TagMatches:
		v, ok := t.Tag(p.Key)
		if !ok {
			return false
		}
		re, err := Anchored(p.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(v)
	}
	return false
}

// regexCacheSize bounds the compiled patterns kept across queries.
const regexCacheSize = 512

var regexCache = mustCache(regexCacheSize)

func mustCache(size int) *lru.Cache[string, *regexp.Regexp] {
	c, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		panic(err)
	}
	return c
}

// Compile compiles pattern, caching the result. Least recently used patterns
// are evicted once the cache is full.
func Compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Add(pattern, re)
	return re, nil
}

// Anchored compiles pattern as a full-string match.
func Anchored(pattern string) (*regexp.Regexp, error) {
	return Compile("^(?:" + pattern + ")$")
}

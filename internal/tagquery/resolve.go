package tagquery

import (
	"fmt"
	"strings"

	"alertcore/internal/predicate"
)

// Resolve turns the tokens of a single clause into a predicate.
//
//	[tag]                    tag present
//	[not tag]                tag absent
//	[tag = v] [tag != v]     quoted v is a regex, unquoted v is an exact value
//	[tag in [v1,v2]]         present and any element matches
//	[tag not in [v1,v2]]     present and no element matches, one exclusion per element
func Resolve(tokens []string) (predicate.Node, error) {
	switch len(tokens) {
	case 1:
		return predicate.TagExists{Key: tokens[0]}, nil
	case 2:
		if !strings.EqualFold(tokens[0], "not") {
			return nil, clauseErr(tokens, "expected 'not <tag>'")
		}
		return predicate.Not{Node: predicate.TagExists{Key: tokens[1]}}, nil
	case 3:
		tag, op, value := tokens[0], tokens[1], tokens[2]
		switch strings.ToLower(op) {
		case "=":
			return valuePredicate(tokens, tag, value)
		case "!=":
			eq, err := valuePredicate(tokens, tag, value)
			if err != nil {
				return nil, err
			}
			return predicate.AllOf(predicate.TagExists{Key: tag}, predicate.Not{Node: eq}), nil
		case "in":
			items, err := arrayItems(tokens, value)
			if err != nil {
				return nil, err
			}
			alts := make([]predicate.Node, 0, len(items))
			for _, item := range items {
				n, err := valuePredicate(tokens, tag, item)
				if err != nil {
					return nil, err
				}
				alts = append(alts, n)
			}
			return predicate.AllOf(predicate.TagExists{Key: tag}, predicate.AnyOf(alts...)), nil
		}
		return nil, clauseErr(tokens, fmt.Sprintf("unknown operator %q", op))
	case 4:
		if !strings.EqualFold(tokens[1], "not") || !strings.EqualFold(tokens[2], "in") {
			return nil, clauseErr(tokens, "expected '<tag> not in [...]'")
		}
		tag := tokens[0]
		items, err := arrayItems(tokens, tokens[3])
		if err != nil {
			return nil, err
		}
		nodes := []predicate.Node{predicate.TagExists{Key: tag}}
		for _, item := range items {
			n, err := valuePredicate(tokens, tag, item)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, predicate.Not{Node: n})
		}
		return predicate.AllOf(nodes...), nil
	}
	return nil, clauseErr(tokens, "wrong number of tokens")
}

func valuePredicate(tokens []string, tag, value string) (predicate.Node, error) {
	if !strings.HasPrefix(value, "'") {
		if strings.HasSuffix(value, "'") {
			return nil, clauseErr(tokens, "unmatched quote in "+value)
		}
		return predicate.TagEquals{Key: tag, Value: value}, nil
	}
	if len(value) < 2 || !strings.HasSuffix(value, "'") {
		return nil, clauseErr(tokens, "unmatched quote in "+value)
	}
	pattern := value[1 : len(value)-1]
	if pattern == "*" {
		pattern = ".*"
	}
	if _, err := predicate.Anchored(pattern); err != nil {
		return nil, clauseErr(tokens, fmt.Sprintf("invalid regex %q: %v", pattern, err))
	}
	return predicate.TagMatches{Key: tag, Pattern: pattern}, nil
}

func arrayItems(tokens []string, value string) ([]string, error) {
	if len(value) < 2 || value[0] != '[' || value[len(value)-1] != ']' {
		return nil, clauseErr(tokens, "expected bracketed array, got "+value)
	}
	body := value[1 : len(value)-1]
	var items []string
	var cur strings.Builder
	inQuote := false
	for _, r := range body {
		switch {
		case r == '\'':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ',' && !inQuote:
			items = append(items, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if inQuote {
		return nil, clauseErr(tokens, "unterminated quote in array")
	}
	items = append(items, strings.TrimSpace(cur.String()))
	for _, item := range items {
		if item == "" {
			return nil, clauseErr(tokens, "empty array element")
		}
	}
	return items, nil
}

func clauseErr(tokens []string, msg string) error {
	return &SyntaxError{Query: strings.Join(tokens, " "), Msg: msg}
}

package tagquery

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokQuoted
	tokArray
	tokEq
	tokNeq
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) keyword(kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, kw)
}

func isDelimiter(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune("()[]'=!", r)
}

func lex(input string) ([]token, error) {
	var out []token
	runes := []rune(input)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			out = append(out, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			out = append(out, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == '=':
			out = append(out, token{kind: tokEq, text: "=", pos: i})
			i++
		case r == '!':
			if i+1 >= len(runes) || runes[i+1] != '=' {
				return nil, syntaxErr(input, i, "expected '=' after '!'")
			}
			out = append(out, token{kind: tokNeq, text: "!=", pos: i})
			i += 2
		case r == '\'':
			end := indexRune(runes, i+1, '\'')
			if end < 0 {
				return nil, syntaxErr(input, i, "unterminated quote")
			}
			out = append(out, token{kind: tokQuoted, text: string(runes[i : end+1]), pos: i})
			i = end + 1
		case r == '[':
			end, err := arrayEnd(input, runes, i)
			if err != nil {
				return nil, err
			}
			out = append(out, token{kind: tokArray, text: string(runes[i : end+1]), pos: i})
			i = end + 1
		case r == ']':
			return nil, syntaxErr(input, i, "unexpected ']'")
		default:
			start := i
			for i < len(runes) && !isDelimiter(runes[i]) {
				i++
			}
			out = append(out, token{kind: tokWord, text: string(runes[start:i]), pos: start})
		}
	}
	return out, nil
}

func indexRune(runes []rune, from int, r rune) int {
	for i := from; i < len(runes); i++ {
		if runes[i] == r {
			return i
		}
	}
	return -1
}

// arrayEnd finds the ']' closing the array opened at start, skipping quoted text.
func arrayEnd(input string, runes []rune, start int) (int, error) {
	inQuote := false
	for i := start + 1; i < len(runes); i++ {
		switch runes[i] {
		case '\'':
			inQuote = !inQuote
		case '[':
			if !inQuote {
				return 0, syntaxErr(input, i, "nested '['")
			}
		case ']':
			if !inQuote {
				return i, nil
			}
		}
	}
	if inQuote {
		return 0, syntaxErr(input, start, "unterminated quote in array")
	}
	return 0, syntaxErr(input, start, "unterminated '['")
}

package launch

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokenWord tokenType = iota
	tokenLink
	tokenBinOpen
	tokenBinClose
)

type token struct {
	typ tokenType
	val string
}

// tokenize splits a launch description into words, '!' and parentheses.
// Double quotes group characters, so properties can contain spaces.
func tokenize(s string) ([]token, error) {
	var tokens []token
	var cur strings.Builder
	inWord := false
	inQuotes := false

	flush := func() {
		if inWord {
			tokens = append(tokens, token{typ: tokenWord, val: cur.String()})
			cur.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inQuotes {
			switch c {
			case '\\':
				if i+1 < len(s) {
					i++
					cur.WriteByte(s[i])
				}
			case '"':
				inQuotes = false
			default:
				cur.WriteByte(c)
			}
			continue
		}

		switch {
		case c == '"':
			inQuotes = true
			inWord = true

		case c == '!':
			flush()
			tokens = append(tokens, token{typ: tokenLink})

		case c == '(':
			flush()
			tokens = append(tokens, token{typ: tokenBinOpen})

		case c == ')':
			flush()
			tokens = append(tokens, token{typ: tokenBinClose})

		case unicode.IsSpace(rune(c)):
			flush()

		default:
			cur.WriteByte(c)
			inWord = true
		}
	}

	if inQuotes {
		return nil, fmt.Errorf("quotes not closed")
	}

	flush()
	return tokens, nil
}

package fieldpath

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type segKind int

const (
	segProperty segKind = iota
	segIndex
	segWildcard
	segFilter
)

// segment is one parsed step of a path expression.
type segment struct {
	kind        segKind
	key         string // property name
	index       int    // array index, may be negative
	filterKey   string
	filterValue string
}

// String renders the segment in path syntax, used in error messages.
func (s segment) String() string {
	switch s.kind {
	case segIndex:
		return fmt.Sprintf("[%d]", s.index)
	case segWildcard:
		return "[*]"
	case segFilter:
		return fmt.Sprintf("[%s=%q]", s.filterKey, s.filterValue)
	default:
		return s.key
	}
}

// Parse splits a path expression into segments. The grammar is
//
//	path    := segment ('.' segment | '[' bracket ']')*
//	segment := identifier
//	bracket := int | '-' int | '*' | identifier '=' quoted
func Parse(path string) ([]segment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty path")
	}

	var segments []segment
	i := 0
	expectProperty := true

	for i < len(path) {
		switch {
		case path[i] == '.':
			if expectProperty {
				return nil, fmt.Errorf("unexpected '.' at position %d", i)
			}
			i++
			expectProperty = true

		case path[i] == '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated '[' at position %d", i)
			}
			inner := path[i+1 : i+end]
			seg, err := parseBracket(inner)
			if err != nil {
				return nil, fmt.Errorf("invalid bracket %q at position %d: %w", inner, i, err)
			}
			segments = append(segments, seg)
			i += end + 1
			expectProperty = false

		default:
			if !expectProperty {
				return nil, fmt.Errorf("unexpected character %q at position %d", path[i], i)
			}
			start := i
			for i < len(path) && path[i] != '.' && path[i] != '[' {
				i++
			}
			name := path[start:i]
			if !validIdentifier(name) {
				return nil, fmt.Errorf("invalid identifier %q at position %d", name, start)
			}
			segments = append(segments, segment{kind: segProperty, key: name})
			expectProperty = false
		}
	}

	if expectProperty {
		return nil, fmt.Errorf("path ends with '.'")
	}
	return segments, nil
}

// parseBracket interprets the text between '[' and ']'.
func parseBracket(inner string) (segment, error) {
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return segment{}, fmt.Errorf("empty bracket")
	}
	if inner == "*" {
		return segment{kind: segWildcard}, nil
	}

	if idx, err := strconv.Atoi(inner); err == nil {
		return segment{kind: segIndex, index: idx}, nil
	}

	// identifier = quoted
	eq := strings.IndexByte(inner, '=')
	if eq < 0 {
		return segment{}, fmt.Errorf("expected index, '*', or key=\"value\"")
	}
	key := strings.TrimSpace(inner[:eq])
	if !validIdentifier(key) {
		return segment{}, fmt.Errorf("invalid filter key %q", key)
	}
	value := strings.TrimSpace(inner[eq+1:])
	unquoted, err := unquote(value)
	if err != nil {
		return segment{}, fmt.Errorf("invalid filter value %s: %w", value, err)
	}
	return segment{kind: segFilter, filterKey: key, filterValue: unquoted}, nil
}

// unquote strips matching single or double quotes.
func unquote(s string) (string, error) {
	if len(s) < 2 {
		return "", fmt.Errorf("value must be quoted")
	}
	open := s[0]
	if open != '"' && open != '\'' {
		return "", fmt.Errorf("value must be quoted")
	}
	if s[len(s)-1] != open {
		return "", fmt.Errorf("mismatched quotes")
	}
	return s[1 : len(s)-1], nil
}

// validIdentifier accepts letters, digits, '_' and '-', starting with a
// letter or underscore. Webhook payload keys use snake_case throughout, but
// dashes appear in header-derived maps.
func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if unicode.IsLetter(r) || r == '_' {
			continue
		}
		if i > 0 && (unicode.IsDigit(r) || r == '-') {
			continue
		}
		return false
	}
	return true
}

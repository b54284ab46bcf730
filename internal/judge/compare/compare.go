// Package compare decides whether a program's output matches the expected output.
//
// Both sides are normalized and parsed into structured values before being
// compared, so formatting differences (trailing newline, extra spaces between
// tokens, "1" vs "1.0") are tolerated while type differences are not: the JSON
// string "1" never equals the number 1.
package compare

import (
	"encoding/json"
	"io"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"judgeflow/pkg/utils/textutil"
)

// Comparator reports whether actual output is acceptable for expected output.
type Comparator interface {
	Compare(expected, actual string) bool
}

// ComparatorFunc adapts a function to Comparator.
type ComparatorFunc func(expected, actual string) bool

func (f ComparatorFunc) Compare(expected, actual string) bool { return f(expected, actual) }

// Default is the structured comparator used for judging.
var Default Comparator = ComparatorFunc(Compare)

// Exact compares normalized text only, with no structural parsing.
var Exact Comparator = ComparatorFunc(func(expected, actual string) bool {
	return Normalize(expected) == Normalize(actual)
})

// Compare parses both sides and reports deep, type-strict equality.
func Compare(expected, actual string) bool {
	return Equal(Parse(expected), Parse(actual))
}

// Normalize strips carriage returns and surrounding whitespace.
func Normalize(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, "\r", ""))
}

// Parse normalizes raw and converts it into a comparable value:
// nil, bool, *big.Rat, string, []any or map[string]any.
func Parse(raw string) any {
	text := Normalize(raw)
	if v, ok := parseJSON(text); ok {
		return v
	}
	fields := strings.Fields(text)
	switch len(fields) {
	case 0:
		return ""
	case 1:
		return coerceToken(fields[0])
	}
	list := make([]any, len(fields))
	for i, f := range fields {
		list[i] = coerceToken(f)
	}
	return list
}

// parseJSON accepts text only if it is exactly one JSON value.
func parseJSON(text string) (any, bool) {
	if text == "" {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, false
	}
	return fromJSON(v), true
}

func fromJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		return number(t.String())
	case []any:
		for i := range t {
			t[i] = fromJSON(t[i])
		}
		return t
	case map[string]any:
		for k, item := range t {
			t[k] = fromJSON(item)
		}
		return t
	default:
		return t
	}
}

var numberToken = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

func coerceToken(tok string) any {
	switch tok {
	case "true":
		return true
	case "false":
		return false
	}
	if numberToken.MatchString(tok) {
		s := strings.TrimPrefix(tok, "+")
		s = strings.Replace(s, ".e", "e", 1)
		s = strings.Replace(s, ".E", "E", 1)
		s = strings.TrimSuffix(s, ".")
		return number(s)
	}
	return tok
}

// maxExponent bounds exact decimal expansion.
const maxExponent = 1000

// bigLiteral is a number whose exponent is out of range for exact
// expansion. It only equals another bigLiteral with the same spelling.
type bigLiteral string

func number(s string) any {
	if r, ok := parseRat(s); ok {
		return r
	}
	return bigLiteral(strings.Replace(strings.ToLower(s), "e+", "e", 1))
}

func parseRat(s string) (*big.Rat, bool) {
	if idx := strings.IndexAny(s, "eE"); idx >= 0 {
		exp, err := strconv.Atoi(s[idx+1:])
		if err != nil || exp > maxExponent || exp < -maxExponent {
			return nil, false
		}
	}
	return new(big.Rat).SetString(s)
}

// Equal reports deep equality of two parsed values. Values of different
// types are never equal; numbers compare by exact value.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case *big.Rat:
		bv, ok := b.(*big.Rat)
		return ok && av.Cmp(bv) == 0
	case bigLiteral:
		bv, ok := b.(bigLiteral)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, item := range av {
			other, exists := bv[k]
			if !exists || !Equal(item, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Preview shortens output for user-facing diagnostics.
func Preview(s string, limit int) string {
	return textutil.Clip(Normalize(s), limit, "...")
}

package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderPattern matches $name optionally followed by a {format} modifier
var placeholderPattern = regexp.MustCompile(`\$[a-zA-Z0-9_]+(\{[^{}]*\})?`)

// numericFormat is a single floating point verb with optional flags, width
// and precision
var numericFormat = regexp.MustCompile(`^%[-+ #0]*\d*(\.\d+)?[eEfFgG]$`)

// SubstituteText replaces every placeholder with its value. Unknown
// variables become the empty string; text that is not a placeholder is kept.
func SubstituteText(text string, vars Variables) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name, format := splitPlaceholder(match)
		value, ok := vars[name]
		if !ok {
			return ""
		}
		return applyFormat(value, format)
	})
}

// SubstituteCalculated replaces placeholders for arithmetic evaluation.
// Values are parenthesised so they bind as a unit; empty or unknown values
// become (0); values containing a comma are inserted raw so they can serve
// as function argument lists.
func SubstituteCalculated(text string, vars Variables) string {
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name, format := splitPlaceholder(match)
		value, ok := vars[name]
		if !ok {
			return "(0)"
		}
		value = strings.TrimSpace(applyFormat(value, format))
		switch {
		case value == "":
			return "(0)"
		case strings.Contains(value, ","):
			return value
		default:
			return "(" + value + ")"
		}
	})
}

func splitPlaceholder(match string) (name, format string) {
	if i := strings.IndexByte(match, '{'); i >= 0 {
		return match[:i], match[i+1 : len(match)-1]
	}
	return match, ""
}

// applyFormat applies a printf style numeric format such as %.2f. Values
// that are not numbers and anything but a single floating point verb leave
// the value untouched.
func applyFormat(value, format string) string {
	if !numericFormat.MatchString(format) {
		return value
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return value
	}
	return fmt.Sprintf(format, f)
}

// FormatNumber renders a calculated value without a trailing ".0"
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

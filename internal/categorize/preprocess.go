package categorize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	boilerplate = regexp.MustCompile(`\b(pos|atm|eft|internet|online|mobile|card)\b`)
	longNumber  = regexp.MustCompile(`\b\d{6,}\b`)
	wordRun     = regexp.MustCompile(`\b[a-z0-9]{8,}\b`)
)

// Preprocess prepares a description for the vectorizer. Text is lower-cased,
// banking boilerplate words and numbers of six or more digits are removed, as
// are reference codes: alphanumeric runs of eight or more characters that
// contain a digit. Plain long words survive.
func Preprocess(text string) string {
	text = strings.ToLower(text)
	text = boilerplate.ReplaceAllString(text, " ")
	text = longNumber.ReplaceAllString(text, " ")
	text = wordRun.ReplaceAllStringFunc(text, func(w string) string {
		if strings.IndexFunc(w, unicode.IsDigit) >= 0 {
			return " "
		}
		return w
	})
	return strings.Join(strings.Fields(text), " ")
}

package validate

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeHTML escapes text for use as element content.
func EscapeHTML(text string) string {
	return htmlEscaper.Replace(text)
}

// StripHTML returns the text content of an HTML fragment. Script and style
// bodies are dropped.
func StripHTML(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var (
		b    strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isRawTextTag(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isRawTextTag(name []byte) bool {
	s := string(name)
	return s == "script" || s == "style"
}

var attributeEscaper = strings.NewReplacer(`"`, "&quot;", "'", "&#x27;", "<", "&lt;", ">", "&gt;")

// SanitizeAttribute escapes quotes and angle brackets for attribute values.
func SanitizeAttribute(value string) string {
	return attributeEscaper.Replace(value)
}

var allowedSchemes = map[string]bool{"http": true, "https": true, "mailto": true}

// SanitizeURL returns raw when it is an absolute http, https or mailto URL,
// and "#" otherwise.
func SanitizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() || !allowedSchemes[strings.ToLower(u.Scheme)] {
		return "#"
	}
	return raw
}

const maxSearchLength = 100

// SanitizeSearch trims text, drops angle brackets and caps the length.
func SanitizeSearch(text string) string {
	text = strings.TrimSpace(text)
	text = strings.NewReplacer("<", "", ">", "").Replace(text)
	return truncate(text, maxSearchLength)
}

const maxFilenameLength = 255

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	repeatedUnderscores = regexp.MustCompile(`_{2,}`)
)

// SanitizeFilename folds accents (á→a, ñ→n), replaces every other unsafe
// character with "_" and caps the length.
func SanitizeFilename(name string) string {
	name = foldAccents(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = repeatedUnderscores.ReplaceAllString(name, "_")
	return truncate(name, maxFilenameLength)
}

func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

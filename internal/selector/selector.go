// internal/selector/selector.go
package selector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xkilldash9x/flowreplay/internal/browser"
)

// MaxPathDepth bounds the structural fallback path.
const MaxPathDepth = 5

// maxTextLength bounds the text used in a text-scoped selector.
const maxTextLength = 50

// preferredDataAttrs are test hooks that tend to survive redesigns, in priority order.
var preferredDataAttrs = []string{"data-testid", "data-test", "data-qa", "data-cy", "data-id"}

var (
	// Framework-generated values: long hex/number runs, css-module hashes, react ids.
	generatedValue = regexp.MustCompile(`(?i)^[0-9a-f]{8,}$|[0-9]{4,}|^:r[0-9a-z]+:$|__[a-z0-9]{5,}$|^(ember|react|ng|vue)[-_]?[0-9]+`)
	generatedClass = regexp.MustCompile(`(?i)^(css|sc|jsx|emotion|styled)-[a-z0-9]+$|[0-9]{3,}|__[a-z0-9]{5,}$`)
	hasTextPattern = regexp.MustCompile(`^(.*):has-text\("((?:[^"\\]|\\.)*)"\)$`)
	spaceRun       = regexp.MustCompile(`\s+`)
)

// Synthesize derives a best-effort locator for el. The first applicable rule
// wins: id, stable data attribute, aria-label, tag-scoped name, anchor href or
// button text, class list, and finally a bounded structural path.
// It is pure: the same ElementInfo always yields the same string.
func Synthesize(el browser.ElementInfo) string {
	tag := strings.ToLower(el.Tag)
	if tag == "" {
		tag = "*"
	}

	if el.ID != "" && !generatedValue.MatchString(el.ID) {
		return "#" + EscapeIdent(el.ID)
	}

	if attr, val, ok := stableDataAttr(el.Attrs); ok {
		return fmt.Sprintf(`[%s="%s"]`, attr, EscapeString(val))
	}

	if label := strings.TrimSpace(el.Attrs["aria-label"]); label != "" {
		return fmt.Sprintf(`%s[aria-label="%s"]`, tag, EscapeString(label))
	}

	if name := el.Attrs["name"]; name != "" {
		return fmt.Sprintf(`%s[name="%s"]`, tag, EscapeString(name))
	}

	if sel, ok := linkOrButton(tag, el); ok {
		return sel
	}

	if classes := stableClasses(el.Classes); len(classes) > 0 {
		return tag + classSuffix(classes)
	}

	return structuralPath(el)
}

func stableDataAttr(attrs map[string]string) (string, string, bool) {
	for _, name := range preferredDataAttrs {
		if v, ok := attrs[name]; ok && v != "" {
			return name, v, true
		}
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		if strings.HasPrefix(name, "data-") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		v := attrs[name]
		if v == "" || len(v) > 64 || generatedValue.MatchString(v) {
			continue
		}
		return name, v, true
	}
	return "", "", false
}

func linkOrButton(tag string, el browser.ElementInfo) (string, bool) {
	switch {
	case tag == "a":
		if href := el.Attrs["href"]; href != "" && !strings.HasPrefix(href, "javascript:") && href != "#" {
			return fmt.Sprintf(`a[href="%s"]`, EscapeString(href)), true
		}
	case tag == "input" && (el.InputType == "submit" || el.InputType == "button"):
		if v := el.Attrs["value"]; v != "" {
			return fmt.Sprintf(`input[type="%s"][value="%s"]`, el.InputType, EscapeString(v)), true
		}
	case tag == "button" || el.Attrs["role"] == "button":
		if text := normalizeText(el.Text); text != "" {
			return fmt.Sprintf(`%s:has-text("%s")`, tag, EscapeString(text)), true
		}
	}
	return "", false
}

func stableClasses(classes []string) []string {
	out := make([]string, 0, len(classes))
	for _, c := range classes {
		if c == "" || generatedClass.MatchString(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func classSuffix(classes []string) string {
	var b strings.Builder
	for _, c := range classes {
		b.WriteByte('.')
		b.WriteString(EscapeIdent(c))
	}
	return b.String()
}

// structuralPath builds "tag.cls:nth-of-type(n) > ..." from the outermost
// kept ancestor down to the element.
func structuralPath(el browser.ElementInfo) string {
	steps := el.Ancestors
	if len(steps) == 0 {
		steps = []browser.NodeStep{{Tag: el.Tag, Classes: el.Classes, Index: 1}}
	}
	if len(steps) > MaxPathDepth {
		steps = steps[:MaxPathDepth]
	}

	parts := make([]string, 0, len(steps))
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		tag := strings.ToLower(s.Tag)
		if tag == "" {
			tag = "*"
		}
		part := tag + classSuffix(stableClasses(s.Classes))
		if s.Index > 0 && tag != "*" {
			part += fmt.Sprintf(":nth-of-type(%d)", s.Index)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " > ")
}

func normalizeText(s string) string {
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	if r := []rune(s); len(r) > maxTextLength {
		s = strings.TrimSpace(string(r[:maxTextLength]))
	}
	return s
}

// SplitTextSelector separates a `base:has-text("text")` selector into its CSS
// part and the unescaped text. ok is false for plain CSS selectors.
func SplitTextSelector(sel string) (base, text string, ok bool) {
	m := hasTextPattern.FindStringSubmatch(sel)
	if m == nil {
		return sel, "", false
	}
	return m[1], unescapeString(m[2]), true
}

// EscapeIdent escapes s for use as a CSS identifier.
func EscapeIdent(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == 0:
			b.WriteString(`\fffd `)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\%x `, r)
		case i == 0 && r >= '0' && r <= '9':
			fmt.Fprintf(&b, `\%x `, r)
		case i == 1 && r >= '0' && r <= '9' && s[0] == '-':
			fmt.Fprintf(&b, `\%x `, r)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	if s == "-" {
		return `\-`
	}
	return b.String()
}

// EscapeString escapes s for use inside a double-quoted CSS string.
func EscapeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\a `)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\%x `, r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeString(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LooksLikeTextInput reports whether sel most likely targets a text field.
func LooksLikeTextInput(sel, tagName, inputType string) bool {
	switch strings.ToLower(tagName) {
	case "textarea":
		return true
	case "input":
		switch strings.ToLower(inputType) {
		case "", "text", "email", "search", "tel", "url", "password", "number":
			return true
		}
		return false
	}
	lower := strings.ToLower(sel)
	return strings.HasPrefix(lower, "input") || strings.HasPrefix(lower, "textarea") ||
		strings.Contains(lower, "[type=\"text\"]") || strings.Contains(lower, "[type=\"email\"]")
}

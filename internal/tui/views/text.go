package views

import (
	"strings"
	"unicode/utf8"

	"github.com/rivo/tview"
)

// displayText prepares user-provided text for a dynamic-color tview
// widget: region and color tags are escaped and codepoints that tcell
// renders with the wrong width are dropped.
func displayText(s string) string {
	return tview.Escape(sanitizeForTerminal(s))
}

// sanitizeForTerminal strips emoji modifiers that tcell cannot lay out:
// skin tones, zero width joiners and variation selectors. A thumbs-up with
// a skin tone becomes a plain two-cell thumbs-up.
func sanitizeForTerminal(s string) string {
	if !strings.ContainsFunc(s, isProblematicRune) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isProblematicRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func isProblematicRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tones
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF: // variation selectors
		return true
	default:
		return false
	}
}

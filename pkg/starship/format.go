package starship

import (
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
)

const ssEllipsis = "…"

// ssColorize renders text in the given hex color for the profile. If color
// is empty, text is returned unmodified.
func ssColorize(p termenv.Profile, text, color string) string {
	if color == "" {
		return text
	}
	return p.String(text).Foreground(p.Color(color)).String()
}

func ssSeparator(p termenv.Profile) string {
	return p.String("│").Faint().String()
}

// ssFormatLine joins the segments with a dim separator, applies colors,
// and drops rightmost segments if the total visible width exceeds
// maxWidth. A first segment that is too wide on its own is truncated with
// an ellipsis rather than dropped.
func ssFormatLine(p termenv.Profile, segments []*Segment, maxWidth int) string {
	if len(segments) == 0 {
		return ""
	}
	if maxWidth <= 0 {
		maxWidth = ssDefaultMaxWidth
	}

	const sepWidth = 3 // " │ "

	var b strings.Builder
	total := 0
	for i, seg := range segments {
		text := seg.Text
		if seg.Icon != "" {
			text = seg.Icon + " " + text
		}
		rendered := ssColorize(p, text, seg.Color)
		width := ansi.StringWidth(rendered)

		if i == 0 {
			if width > maxWidth {
				rendered = ansi.Truncate(rendered, maxWidth, ssEllipsis)
				width = ansi.StringWidth(rendered)
			}
			b.WriteString(rendered)
			total = width
			continue
		}

		if total+sepWidth+width > maxWidth {
			break
		}
		b.WriteString(" " + ssSeparator(p) + " ")
		b.WriteString(rendered)
		total += sepWidth + width
	}
	return b.String()
}

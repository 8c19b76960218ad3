package telegram

import (
	"html"
	"strings"
)

const textLimit = 4000

// toHTML escapes s for HTML parse mode and turns **x** into <b>x</b>. An
// unpaired marker is kept literally.
func toHTML(s string) string {
	parts := strings.Split(s, "**")
	var b strings.Builder
	for i, p := range parts {
		esc := html.EscapeString(p)
		switch {
		case i%2 == 0:
			b.WriteString(esc)
		case i == len(parts)-1:
			b.WriteString("**" + esc)
		default:
			b.WriteString("<b>" + esc + "</b>")
		}
	}
	return b.String()
}

// splitText splits long messages into chunks of at most limit runes. It
// prefers newline boundaries and, for HTML, avoids cutting inside a tag.
func splitText(s string, limit int, isHTML bool) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid tiny chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if isHTML && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

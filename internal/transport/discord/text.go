package discord

import "strings"

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	`~`, `\~`,
	"`", "\\`",
	`|`, `\|`,
	`>`, `\>`,
	`#`, `\#`,
	`[`, `\[`,
	`]`, `\]`,
)

// escapeMarkdown escapes Discord markdown inside the text while keeping
// **x** spans bold. An unpaired marker is escaped like any other text.
func escapeMarkdown(s string) string {
	parts := strings.Split(s, "**")
	var b strings.Builder
	for i, p := range parts {
		esc := markdownEscaper.Replace(p)
		switch {
		case i%2 == 0:
			b.WriteString(esc)
		case i == len(parts)-1:
			b.WriteString(`\*\*` + esc)
		default:
			b.WriteString("**" + esc + "**")
		}
	}
	return b.String()
}

package mailparse

import (
	"strings"

	"golang.org/x/net/html"
)

var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "li": true, "blockquote": true,
	"pre": true, "table": true, "tr": true, "td": true, "th": true,
	"section": true, "article": true, "header": true, "footer": true,
}

// StripHTML converts an HTML body to plain text: tags removed, script and
// style content discarded, block boundaries collapsed to single newlines.
func StripHTML(src string) string {
	tz := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skipDepth := 0
	needBreak := false

	writeBreak := func() {
		if b.Len() > 0 {
			needBreak = true
		}
	}

	for {
		switch tz.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())

		case html.StartTagToken:
			tn, _ := tz.TagName()
			name := string(tn)
			if skipElements[name] {
				skipDepth++
				continue
			}
			if name == "br" || blockElements[name] {
				writeBreak()
			}

		case html.EndTagToken:
			tn, _ := tz.TagName()
			name := string(tn)
			if skipElements[name] && skipDepth > 0 {
				skipDepth--
				continue
			}
			if blockElements[name] {
				writeBreak()
			}

		case html.SelfClosingTagToken:
			tn, _ := tz.TagName()
			if string(tn) == "br" {
				writeBreak()
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tz.Text()))
			if text == "" {
				continue
			}
			if needBreak {
				b.WriteString("\n")
				needBreak = false
			} else if b.Len() > 0 {
				b.WriteString(" ")
			}
			b.WriteString(text)
		}
	}
}

package render

import "strings"

const (
	documentHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<style>@page { margin: 0; }</style>
</head>
<body style="margin: 0;">
<div>`
	documentTail = `</div>
</body>
</html>`
)

// Document wraps markup in the fixed page shell. The markup is inserted
// verbatim; it is trusted input.
func Document(markup string) string {
	var b strings.Builder
	b.Grow(len(documentHead) + len(markup) + len(documentTail))
	b.WriteString(documentHead)
	b.WriteString(markup)
	b.WriteString(documentTail)
	return b.String()
}

package cli

import (
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	chromastyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

// token is a syntax-highlighted chunk of text.
type token struct {
	Text  string
	Color string // hex colour, empty for default
}

// tokenize splits one source line into coloured tokens using the lexer for
// filename. Unknown languages yield a single plain token.
func tokenize(filename, line string) []token {
	lexer := lexers.Match(filepath.Base(filename))
	if lexer == nil {
		return []token{{Text: line}}
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, line)
	if err != nil {
		return []token{{Text: line}}
	}

	style := chromastyles.Get("dracula")
	if style == nil {
		style = chromastyles.Fallback
	}

	var out []token
	for _, t := range iterator.Tokens() {
		text := strings.TrimRight(t.Value, "\n")
		if text == "" {
			continue
		}
		out = append(out, token{Text: text, Color: tokenColor(style, t.Type)})
	}
	return out
}

func tokenColor(style *chroma.Style, tt chroma.TokenType) string {
	entry := style.Get(tt)
	if entry.Colour.IsSet() {
		return entry.Colour.String()
	}
	return ""
}

// highlight renders a source line for the terminal behind r.
func highlight(r *lipgloss.Renderer, filename, line string) string {
	var b strings.Builder
	for _, tok := range tokenize(filename, line) {
		if tok.Color == "" {
			b.WriteString(tok.Text)
			continue
		}
		b.WriteString(r.NewStyle().Foreground(lipgloss.Color(tok.Color)).Render(tok.Text))
	}
	return b.String()
}

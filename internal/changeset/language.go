package changeset

import (
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

// DetectLanguage names the language of a file from its name using the
// lexer registry, lower-cased ("c", "c++", "go"). Unknown files yield "".
func DetectLanguage(filename string) string {
	var lexer chroma.Lexer
	if base := filepath.Base(filename); base != "." && base != "/" {
		lexer = lexers.Match(base)
	}
	if lexer == nil {
		return ""
	}
	return strings.ToLower(lexer.Config().Name)
}

package analyze

import (
	"path/filepath"
	"regexp"
	"strings"
)

// language describes how to read one source language's surface syntax.
type language struct {
	name        string
	lineComment string
	branchWords []string
	symbolRes   []symbolPattern
}

type symbolPattern struct {
	kind string
	re   *regexp.Regexp
}

var languages = map[string]*language{
	".go": {
		name:        "go",
		lineComment: "//",
		branchWords: []string{"if ", "for ", "case ", "select {", "&&", "||"},
		symbolRes: []symbolPattern{
			{"function", regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?([A-Za-z_]\w*)`)},
			{"type", regexp.MustCompile(`^type\s+([A-Za-z_]\w*)`)},
		},
	},
	".py": {
		name:        "python",
		lineComment: "#",
		branchWords: []string{"if ", "elif ", "for ", "while ", "except", " and ", " or "},
		symbolRes: []symbolPattern{
			{"function", regexp.MustCompile(`^\s*def\s+([A-Za-z_]\w*)`)},
			{"type", regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)`)},
		},
	},
	".js": {
		name:        "javascript",
		lineComment: "//",
		branchWords: []string{"if ", "for ", "while ", "case ", "catch", "&&", "||", "?"},
		symbolRes: []symbolPattern{
			{"function", regexp.MustCompile(`^\s*(?:async\s+)?function\s+([A-Za-z_$]\w*)`)},
			{"type", regexp.MustCompile(`^\s*class\s+([A-Za-z_$]\w*)`)},
		},
	},
	".java": {
		name:        "java",
		lineComment: "//",
		branchWords: []string{"if ", "for ", "while ", "case ", "catch", "&&", "||"},
		symbolRes: []symbolPattern{
			{"type", regexp.MustCompile(`^\s*(?:public|private|protected)?\s*(?:final\s+|abstract\s+)?(?:class|interface|enum)\s+([A-Za-z_]\w*)`)},
		},
	},
	".rb": {
		name:        "ruby",
		lineComment: "#",
		branchWords: []string{"if ", "elsif ", "unless ", "while ", "until ", "rescue", "&&", "||"},
		symbolRes: []symbolPattern{
			{"function", regexp.MustCompile(`^\s*def\s+([A-Za-z_]\w*)`)},
			{"type", regexp.MustCompile(`^\s*class\s+([A-Za-z_]\w*)`)},
		},
	},
}

func init() {
	languages[".ts"] = &language{
		name:        "typescript",
		lineComment: "//",
		branchWords: languages[".js"].branchWords,
		symbolRes:   languages[".js"].symbolRes,
	}
}

// detect returns the language for a path, or nil for unknown extensions.
func detect(path string) *language {
	return languages[strings.ToLower(filepath.Ext(path))]
}

// isComment reports whether a trimmed line is a comment in the language.
func (l *language) isComment(trimmed string) bool {
	return strings.HasPrefix(trimmed, l.lineComment)
}

// branches counts branch keywords on a code line.
func (l *language) branches(line string) int {
	n := 0
	for _, w := range l.branchWords {
		n += strings.Count(line, w)
	}
	return n
}

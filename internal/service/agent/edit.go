package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Edit-match failures. Both are recovered into textual tool results so the
// model can retry with better input; they never abort the loop.
var (
	errNoMatch        = errors.New("old string not found")
	errAmbiguousMatch = errors.New("old string is ambiguous")
)

// applyEdit replaces a single occurrence of oldStr in content. Matching is
// attempted with the exact string first, then a trimmed variant, then a
// newline-normalized variant. More than one occurrence of whichever variant
// matched is an ambiguity error; no occurrence of any variant is a no-match
// error.
func applyEdit(content, oldStr, newStr string) (string, error) {
	if oldStr == "" {
		return "", fmt.Errorf("%w: empty old string", errNoMatch)
	}

	candidates := []string{oldStr}
	if trimmed := strings.TrimSpace(oldStr); trimmed != "" && trimmed != oldStr {
		candidates = append(candidates, trimmed)
	}
	if normalized := normalizeNewlines(oldStr); normalized != oldStr {
		candidates = append(candidates, normalized)
	}

	for _, candidate := range candidates {
		switch n := strings.Count(content, candidate); {
		case n == 1:
			return strings.Replace(content, candidate, newStr, 1), nil
		case n > 1:
			return "", fmt.Errorf("%w: %d occurrences, provide more surrounding context", errAmbiguousMatch, n)
		}
	}

	// Last resort: match against newline-normalized content. The page files
	// are written with \n endings, but the model may echo them back as \r\n.
	normalizedContent := normalizeNewlines(content)
	if normalizedContent != content {
		normalizedOld := normalizeNewlines(oldStr)
		switch n := strings.Count(normalizedContent, normalizedOld); {
		case n == 1:
			return strings.Replace(normalizedContent, normalizedOld, newStr, 1), nil
		case n > 1:
			return "", fmt.Errorf("%w: %d occurrences, provide more surrounding context", errAmbiguousMatch, n)
		}
	}

	return "", errNoMatch
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

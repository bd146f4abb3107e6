// Package splitter découpe le texte brut d'une leçon en contenus de slides.
package splitter

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)
	underscoreRun  = regexp.MustCompile(`_{2,}`)
	hashRun        = regexp.MustCompile(`#{2,}`)
	blankRun       = regexp.MustCompile(`[ \t]+`)
)

// Segment découpe raw sur les lignes vides et nettoie chaque paragraphe des
// marqueurs de mise en forme. Les paragraphes sans aucune lettre sont ignorés.
// L'ordre est conservé et le résultat n'est jamais nil.
func Segment(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	slides := make([]string, 0)
	for _, candidate := range paragraphBreak.Split(raw, -1) {
		cleaned := clean(candidate)
		if cleaned == "" || !hasLetter(cleaned) {
			continue
		}
		slides = append(slides, cleaned)
	}
	return slides
}

func clean(paragraph string) string {
	paragraph = strings.ReplaceAll(paragraph, "*", "")
	paragraph = underscoreRun.ReplaceAllString(paragraph, "")
	paragraph = hashRun.ReplaceAllString(paragraph, "")

	lines := strings.Split(paragraph, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(blankRun.ReplaceAllString(line, " "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

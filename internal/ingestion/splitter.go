package ingestion

import (
	"strings"
	"unicode"
)

// Splitter breaks paragraphs that are too long to embed or to show as one
// context into groups of whole sentences.
type Splitter struct {
	// MaxWords is the longest piece in words. Zero disables splitting.
	MaxWords int
}

// Split returns the pieces of text in order. Text within the limit is returned
// unchanged as a single piece.
func (s Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.MaxWords <= 0 || len(strings.Fields(text)) <= s.MaxWords {
		return []string{text}
	}

	var pieces []string
	var current []string
	words := 0

	flush := func() {
		if len(current) > 0 {
			pieces = append(pieces, strings.Join(current, " "))
			current, words = nil, 0
		}
	}

	for _, sentence := range splitSentences(text) {
		n := len(strings.Fields(sentence))
		if n > s.MaxWords {
			flush()
			pieces = append(pieces, splitWords(sentence, s.MaxWords)...)
			continue
		}
		if words+n > s.MaxWords {
			flush()
		}
		current = append(current, sentence)
		words += n
	}
	flush()

	return pieces
}

// splitWords cuts a single overlong sentence every max words.
func splitWords(sentence string, max int) []string {
	words := strings.Fields(sentence)
	pieces := make([]string, 0, len(words)/max+1)
	for i := 0; i < len(words); i += max {
		end := min(i+max, len(words))
		pieces = append(pieces, strings.Join(words[i:end], " "))
	}
	return pieces
}

// splitSentences splits on ., ! and ? followed by whitespace or the end of text.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		sentence := strings.TrimSpace(current.String())
		if sentence != "" && !isAbbreviation(sentence) {
			sentences = append(sentences, sentence)
			current.Reset()
		}
	}

	if rest := strings.TrimSpace(current.String()); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// abbreviations common in scientific prose that do not end a sentence.
var abbreviations = []string{
	"e.g.", "i.e.", "et al.", "etc.", "cf.", "vs.", "approx.",
	"fig.", "figs.", "eq.", "eqs.", "ref.", "refs.", "tab.",
	"no.", "vol.", "pp.", "sp.", "spp.", "ca.", "dr.", "prof.",
}

func isAbbreviation(text string) bool {
	lower := strings.ToLower(text)
	for _, abbr := range abbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}

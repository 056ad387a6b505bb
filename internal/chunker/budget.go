package chunker

import "strings"

// EstimateTokens gives a rough token count from the word count.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	// Roughly 0.75 words per token for English prose.
	tokens := int(float64(words) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// Section is a titled block of supporting text competing for prompt space.
type Section struct {
	Title string
	Text  string
}

// Fit keeps sections in order until maxTokens is spent. The section that
// crosses the limit is cut at a paragraph or sentence boundary; later
// sections are dropped. The second return value reports whether anything
// was cut.
func Fit(sections []Section, maxTokens int) ([]Section, bool) {
	if maxTokens <= 0 {
		return nil, len(sections) > 0
	}

	var out []Section
	used := 0
	for _, s := range sections {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		tokens := EstimateTokens(s.Title) + EstimateTokens(text)
		if used+tokens <= maxTokens {
			out = append(out, Section{Title: s.Title, Text: text})
			used += tokens
			continue
		}

		remaining := maxTokens - used - EstimateTokens(s.Title)
		if cut := truncate(text, remaining); cut != "" {
			out = append(out, Section{Title: s.Title, Text: cut})
		}
		return out, true
	}
	return out, false
}

// truncate returns the longest prefix of whole paragraphs, then whole
// sentences, that fits in maxTokens.
func truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	var kept []string
	used := 0
	for _, para := range splitByParagraphs(text) {
		t := EstimateTokens(para)
		if used+t <= maxTokens {
			kept = append(kept, para)
			used += t
			continue
		}
		var partial strings.Builder
		for _, sent := range splitSentences(para) {
			st := EstimateTokens(sent)
			if used+st > maxTokens {
				break
			}
			if partial.Len() > 0 {
				partial.WriteString(" ")
			}
			partial.WriteString(sent)
			used += st
		}
		if partial.Len() > 0 {
			kept = append(kept, partial.String())
		}
		break
	}
	return strings.Join(kept, "\n\n")
}

// splitByParagraphs splits on blank lines.
func splitByParagraphs(text string) []string {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// splitSentences does basic sentence splitting on terminal punctuation.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

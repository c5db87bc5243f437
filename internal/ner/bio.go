package ner

import "strings"

// DecodeBIO groups per-token BIO tags into entities. Continuation pieces
// follow the tag of the first piece of their word. Spans whose class has
// no redaction label (e.g. MISC) are dropped.
func DecodeBIO(text string, tokens []Token, tags []string) []Entity {
	var (
		entities []Entity
		current  *Entity
		class    string
	)

	flush := func() {
		if current != nil {
			if current.Label != LabelUnknown {
				current.Text = text[current.Start:current.End]
				entities = append(entities, *current)
			}
			current = nil
			class = ""
		}
	}

	for i, tok := range tokens {
		if i >= len(tags) {
			break
		}

		if tok.Continuation {
			if current != nil {
				current.End = tok.End
			}
			continue
		}

		tag := strings.ToUpper(tags[i])
		prefix, name := splitTag(tag)

		switch {
		case prefix == "O":
			flush()
		case prefix == "I" && current != nil && name == class:
			current.End = tok.End
		default:
			flush()
			current = &Entity{Label: ParseLabel(name), Start: tok.Start, End: tok.End}
			class = name
		}
	}
	flush()

	return entities
}

// splitTag separates "B-PER" into ("B", "PER"); bare class names are
// treated as B- tags.
func splitTag(tag string) (string, string) {
	if tag == "" || tag == "O" {
		return "O", ""
	}
	if len(tag) > 2 && tag[1] == '-' && (tag[0] == 'B' || tag[0] == 'I') {
		return tag[:1], tag[2:]
	}
	return "B", tag
}

// DefaultONNXLabels is the id2label order of the common CoNLL-03 BERT
// token-classification checkpoints.
func DefaultONNXLabels() []string {
	return []string{"O", "B-MISC", "I-MISC", "B-PER", "I-PER", "B-ORG", "I-ORG", "B-LOC", "I-LOC"}
}

// Package corpus loads and chunks the reference document corpus.
package corpus

import "strings"

// DefaultSeparators order chunking from coarsest to finest: paragraph,
// line, sentence, word. A hard character cut is never applied; a run with
// no separator at all is emitted as a single oversized chunk.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Splitter splits text recursively: it picks the coarsest separator that
// appears in the text, splits on it, and re-splits any piece still larger
// than the target size with the finer separators. Adjacent small pieces are
// merged back together up to the target size, retaining a tail of previous
// pieces as overlap so context survives chunk boundaries.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// NewSplitter creates a splitter with the given target chunk size and
// overlap, both in characters. overlap must be smaller than size.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = 1500
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 8
	}
	return &Splitter{chunkSize: size, overlap: overlap, separators: DefaultSeparators}
}

// Split chunks text. Deterministic: the same input always yields the same
// chunks. Returns nil for whitespace-only input.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, seps []string) []string {
	if len(text) <= s.chunkSize {
		return []string{text}
	}

	sep, rest := pickSeparator(text, seps)
	if sep == "" {
		// Unsplittable run longer than the target: emit oversized rather than drop.
		return []string{text}
	}

	parts := splitKeepSep(text, sep)

	var out []string
	var pending []string
	for _, p := range parts {
		if len(p) <= s.chunkSize {
			pending = append(pending, p)
			continue
		}
		out = append(out, s.merge(pending)...)
		pending = nil
		out = append(out, s.split(p, rest)...)
	}
	out = append(out, s.merge(pending)...)
	return out
}

// pickSeparator returns the coarsest separator present in text and the
// finer ones remaining for recursion.
func pickSeparator(text string, seps []string) (string, []string) {
	for i, sp := range seps {
		if strings.Contains(text, sp) {
			return sp, seps[i+1:]
		}
	}
	return "", nil
}

// splitKeepSep splits text on sep, keeping the separator attached to the
// preceding piece so concatenating pieces reproduces the input exactly.
func splitKeepSep(text, sep string) []string {
	raw := strings.SplitAfter(text, sep)
	parts := raw[:0]
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// merge joins small pieces into chunks of at most chunkSize characters,
// carrying a tail of up to overlap characters of whole pieces into the next
// chunk. Every emitted chunk ends with at least one piece not present in
// the previous chunk.
func (s *Splitter) merge(parts []string) []string {
	if len(parts) == 0 {
		return nil
	}

	var chunks []string
	var window []string
	total := 0

	for _, p := range parts {
		if total+len(p) > s.chunkSize && total > 0 {
			chunks = append(chunks, strings.Join(window, ""))
			// Shrink the window to the overlap budget, and further if the
			// incoming piece would still not fit.
			for total > s.overlap || (total+len(p) > s.chunkSize && total > 0) {
				total -= len(window[0])
				window = window[1:]
			}
		}
		window = append(window, p)
		total += len(p)
	}

	// The window always ends with a piece appended after the last emission.
	chunks = append(chunks, strings.Join(window, ""))
	return chunks
}

package extract

import "strings"

// defaultSeparators is the cascade tried most-natural-boundary first:
// paragraph, line, sentence, word, then raw characters.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter cuts text into windows of at most Size characters, adjacent
// windows sharing Overlap characters of context. It never emits an empty
// chunk.
type Splitter struct {
	Size    int
	Overlap int
}

func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = 800
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 8
	}
	return &Splitter{Size: size, Overlap: overlap}
}

func (s *Splitter) Split(text string) []string {
	return s.split(text, defaultSeparators)
}

func (s *Splitter) split(text string, seps []string) []string {
	if len(text) <= s.Size {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	sep := ""
	rest := []string{}
	for i, sp := range seps {
		if sp == "" {
			break
		}
		if strings.Contains(text, sp) {
			sep = sp
			rest = seps[i+1:]
			break
		}
	}

	if sep == "" {
		return s.hardCut(text)
	}

	parts := strings.SplitAfter(text, sep)

	var out []string
	var cur strings.Builder
	for _, p := range parts {
		if len(p) > s.Size {
			if cur.Len() > 0 {
				out = appendChunk(out, cur.String())
				cur.Reset()
			}
			out = append(out, s.split(p, rest)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(p) > s.Size {
			chunk := cur.String()
			out = appendChunk(out, chunk)
			cur.Reset()
			cur.WriteString(overlapTail(chunk, s.Overlap))
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		out = appendChunk(out, cur.String())
	}
	return out
}

// hardCut is the character-level last resort for text with no usable
// separator at all.
func (s *Splitter) hardCut(text string) []string {
	step := s.Size - s.Overlap
	if step <= 0 {
		step = s.Size
	}
	var out []string
	for start := 0; start < len(text); start += step {
		end := start + s.Size
		if end > len(text) {
			end = len(text)
		}
		out = appendChunk(out, text[start:end])
		if end == len(text) {
			break
		}
	}
	return out
}

func appendChunk(chunks []string, chunk string) []string {
	chunk = strings.TrimSpace(chunk)
	if chunk == "" {
		return chunks
	}
	return append(chunks, chunk)
}

// overlapTail returns the last n characters of chunk, extended left to the
// nearest word boundary when one is close.
func overlapTail(chunk string, n int) string {
	if n <= 0 || len(chunk) == 0 {
		return ""
	}
	if len(chunk) <= n {
		return chunk
	}
	tail := chunk[len(chunk)-n:]
	if i := strings.IndexByte(tail, ' '); i >= 0 && i < len(tail)-1 {
		tail = tail[i+1:]
	}
	return tail
}

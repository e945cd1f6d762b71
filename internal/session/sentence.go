package session

import "strings"

// Sentence boundaries for incremental synthesis. A terminal punctuation mark
// counts only when followed by a space or sitting at the end of the buffer,
// so decimals like "3.5" stay intact.
const sentenceEndings = ".!?:;"

// minSentenceLen filters out fragments like "Ja." that are not worth a
// synthesis round-trip on their own; they ride along with the next sentence.
const minSentenceLen = 4

// splitter accumulates streamed tokens and emits speakable sentences as soon
// as they complete, so synthesis starts long before the full response exists.
type splitter struct {
	buf string
	max int
}

func newSplitter(maxLen int) *splitter {
	if maxLen <= 0 {
		maxLen = 240
	}
	return &splitter{max: maxLen}
}

// feed appends one token and returns any sentences completed by it.
func (s *splitter) feed(token string) []string {
	s.buf += token
	var out []string
	for {
		cut := boundary(s.buf)
		if cut < 0 {
			break
		}
		sentence := strings.TrimSpace(s.buf[:cut+1])
		s.buf = strings.TrimLeft(s.buf[cut+1:], " ")
		if len(sentence) >= minSentenceLen {
			out = append(out, sentence)
		} else if len(out) > 0 {
			// Glue a short fragment onto the previous sentence.
			out[len(out)-1] += " " + sentence
		} else if sentence != "" {
			s.buf = sentence + " " + s.buf
			break
		}
	}
	// A response with no punctuation would otherwise buffer forever; force a
	// break at a word boundary once the buffer gets long.
	for len(s.buf) > s.max {
		cut := strings.LastIndexByte(s.buf[:s.max], ' ')
		if cut <= 0 {
			cut = s.max
		}
		out = append(out, strings.TrimSpace(s.buf[:cut]))
		s.buf = strings.TrimLeft(s.buf[cut:], " ")
	}
	return out
}

// flush returns whatever remains in the buffer and resets it.
func (s *splitter) flush() string {
	rest := strings.TrimSpace(s.buf)
	s.buf = ""
	return rest
}

// boundary returns the index of the last terminal punctuation mark that ends
// a sentence, or -1 when the buffer holds no complete sentence.
func boundary(buf string) int {
	best := -1
	for _, end := range sentenceEndings {
		for i := len(buf) - 1; i >= 0; i-- {
			if rune(buf[i]) != end {
				continue
			}
			if i == len(buf)-1 || buf[i+1] == ' ' {
				if i > best {
					best = i
				}
				break
			}
		}
	}
	return best
}

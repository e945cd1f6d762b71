// Package rag provides in-memory TF-IDF retrieval over markdown product
// documentation. The index is built once at startup; lookups are cheap enough
// to run inline on the session's turn path.
package rag

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Result is one retrieval hit.
type Result struct {
	Product string
	Content string
	Score   float64
}

// chunk is one product section of the source document.
type chunk struct {
	product string
	content string
	vector  map[string]float64 // L2-normalized tf-idf weights
}

var (
	sectionRe = regexp.MustCompile(`(?m)^###\s+`)
	headerRe  = regexp.MustCompile(`^###\s+(?:\d+(?:\.\d+)*\s+)?(.+)`)
	featureRe = regexp.MustCompile(`\*\*Key Features:\*\*\s*\n-\s*([^\n]+)`)
	tokenRe   = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// Index is a TF-IDF index over the chunks of one documentation file.
type Index struct {
	mu      sync.RWMutex
	chunks  []chunk
	idf     map[string]float64
	summary string
}

// Load reads the markdown document at path, splits it into per-product
// sections on "###" headers and builds the index. A missing file yields an
// empty index and no error so the agent still runs without documentation.
func Load(path string) (*Index, error) {
	idx := &Index{idf: map[string]float64{}}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Warn().Str("path", path).Msg("product docs not found, retrieval disabled")
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read product docs: %w", err)
	}
	idx.build(string(raw))
	log.Info().Int("chunks", len(idx.chunks)).Int("terms", len(idx.idf)).
		Str("path", path).Msg("tf-idf index built")
	return idx, nil
}

func (x *Index) build(content string) {
	var summaries []string
	for _, section := range splitSections(content) {
		section = strings.TrimSpace(section)
		if len(section) < 50 {
			continue
		}
		name := productName(section)
		x.chunks = append(x.chunks, chunk{product: name, content: section})
		summaries = append(summaries, fmt.Sprintf("- %s: %s", name, shortDesc(section)))
	}
	x.summary = strings.Join(summaries, "\n")

	// Document frequencies over unigrams and bigrams.
	df := map[string]int{}
	perChunk := make([]map[string]float64, len(x.chunks))
	for i, c := range x.chunks {
		tf := termFreqs(c.content)
		perChunk[i] = tf
		for term := range tf {
			df[term]++
		}
	}
	n := float64(len(x.chunks))
	for term, d := range df {
		// Smoothed idf, same form sklearn uses.
		x.idf[term] = math.Log((1+n)/(1+float64(d))) + 1
	}
	for i := range x.chunks {
		x.chunks[i].vector = x.weigh(perChunk[i])
	}
}

// splitSections splits on "###" headers, keeping each header with its body.
func splitSections(content string) []string {
	locs := sectionRe.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return []string{content}
	}
	var out []string
	if locs[0][0] > 0 {
		out = append(out, content[:locs[0][0]])
	}
	for i, loc := range locs {
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out = append(out, content[loc[0]:end])
	}
	return out
}

func productName(section string) string {
	line, _, _ := strings.Cut(section, "\n")
	if m := headerRe.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1])
	}
	return "Product"
}

// shortDesc picks a one-line description for the system-prompt summary:
// the first key-features bullet if present, else the first non-header line.
func shortDesc(section string) string {
	if m := featureRe.FindStringSubmatch(section); m != nil {
		return truncate(strings.TrimSpace(m[1]), 60)
	}
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return truncate(line, 60)
	}
	return "Produktinformation"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// termFreqs tokenizes text and returns sublinear term frequencies,
// 1 + log(tf), over unigrams and adjacent bigrams.
func termFreqs(text string) map[string]float64 {
	tokens := tokenRe.FindAllString(strings.ToLower(text), -1)
	counts := map[string]int{}
	for i, tok := range tokens {
		counts[tok]++
		if i+1 < len(tokens) {
			counts[tok+" "+tokens[i+1]]++
		}
	}
	tf := make(map[string]float64, len(counts))
	for term, c := range counts {
		tf[term] = 1 + math.Log(float64(c))
	}
	return tf
}

// weigh multiplies term frequencies by idf and L2-normalizes.
func (x *Index) weigh(tf map[string]float64) map[string]float64 {
	vec := make(map[string]float64, len(tf))
	var norm float64
	for term, f := range tf {
		idf, ok := x.idf[term]
		if !ok {
			continue
		}
		w := f * idf
		vec[term] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for term := range vec {
			vec[term] /= norm
		}
	}
	return vec
}

// Search returns the topK chunks most similar to query by cosine similarity.
// Hits scoring at or below 0.01 are dropped as noise.
func (x *Index) Search(query string, topK int) []Result {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.chunks) == 0 {
		return nil
	}
	qv := x.weigh(termFreqs(query))
	if len(qv) == 0 {
		return nil
	}

	results := make([]Result, 0, len(x.chunks))
	for _, c := range x.chunks {
		var score float64
		for term, w := range qv {
			score += w * c.vector[term]
		}
		if score > 0.01 {
			results = append(results, Result{Product: c.product, Content: c.content, Score: score})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Summary returns a newline-separated list of products with one-line
// descriptions, for inclusion in the system prompt.
func (x *Index) Summary() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.summary
}

// Len reports the number of indexed chunks.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.chunks)
}

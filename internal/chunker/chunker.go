package chunker

import (
	"errors"
	"regexp"
	"strings"
)

// ErrEmptyContent is returned when the input text contains no sentences.
var ErrEmptyContent = errors.New("content contains no sentences")

// SizeFunc measures text in the embedding model's input units. The default
// counts runes; a token-based measure can be plugged in per model.
type SizeFunc func(string) int

// RuneCount is the default SizeFunc.
func RuneCount(s string) int {
	return len([]rune(s))
}

// Chunk is one sentence-aligned slice of the input. ForcedSplit marks a
// piece of a single sentence that alone exceeded the size limit.
type Chunk struct {
	Text        string
	ForcedSplit bool
}

// Chunker splits raw text into sentence-bounded chunks sized to an
// embedding model's context window.
type Chunker struct {
	maxChunkSize int
	sizeFn       SizeFunc
}

func New(maxChunkSize int, sizeFn SizeFunc) *Chunker {
	if sizeFn == nil {
		sizeFn = RuneCount
	}
	return &Chunker{
		maxChunkSize: maxChunkSize,
		sizeFn:       sizeFn,
	}
}

var (
	sentenceEndRegex = regexp.MustCompile(`\.\s+|\.\s*$`)
	initialRegex     = regexp.MustCompile(`(^|\s)[A-Z]$`)

	quoteReplacer = strings.NewReplacer(
		"´", "`",
		"“", `"`, "”", `"`, "„", `"`,
		"‘", "'", "’", "'", "ʻ", "'", "ʼ", "'", "ˈ", "'",
	)
	hyphenBreakRegex = regexp.MustCompile(`-\n`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
)

// Clean normalizes confusing unicode punctuation, joins words hyphenated
// across line breaks, and collapses whitespace runs to single spaces.
func Clean(text string) string {
	text = quoteReplacer.Replace(text)
	text = hyphenBreakRegex.ReplaceAllString(text, "")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Split cleans the text, segments it into sentences, and greedily packs
// consecutive sentences into chunks that stay within the size limit. A
// sentence that alone exceeds the limit is force-split at the unit
// boundary and every resulting piece is flagged, never dropped.
func (c *Chunker) Split(text string) ([]Chunk, error) {
	sentences := SplitSentences(Clean(text))
	if len(sentences) == 0 {
		return nil, ErrEmptyContent
	}

	var chunks []Chunk
	var current []string
	currentSize := 0

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, Chunk{Text: strings.Join(current, " ")})
			current = nil
			currentSize = 0
		}
	}

	for _, sentence := range sentences {
		size := c.sizeFn(sentence)

		if size > c.maxChunkSize {
			flush()
			for _, piece := range c.forceSplit(sentence) {
				chunks = append(chunks, Chunk{Text: piece, ForcedSplit: true})
			}
			continue
		}

		// +1 for the joining space between sentences.
		joined := size
		if currentSize > 0 {
			joined += currentSize + 1
		}
		if joined > c.maxChunkSize {
			flush()
			joined = size
		}
		current = append(current, sentence)
		currentSize = joined
	}
	flush()

	return chunks, nil
}

// SplitSentences segments text on terminal periods. A period preceded by
// "et al" or a lone capital initial ("John F. Kennedy") does not end a
// sentence.
func SplitSentences(text string) []string {
	var sentences []string

	start := 0
	for _, loc := range sentenceEndRegex.FindAllStringIndex(text, -1) {
		pos, end := loc[0], loc[1]
		if protectedPeriod(text[:pos]) {
			continue
		}
		if s := strings.TrimSpace(text[start:pos]); s != "" {
			sentences = append(sentences, s+".")
		}
		start = end
	}

	if start < len(text) {
		if s := strings.TrimSpace(text[start:]); s != "" {
			sentences = append(sentences, s)
		}
	}

	return sentences
}

// protectedPeriod reports whether the period following prefix belongs to
// an abbreviation rather than a sentence end.
func protectedPeriod(prefix string) bool {
	if strings.HasSuffix(prefix, "et al") {
		return true
	}
	return initialRegex.MatchString(prefix)
}

// forceSplit cuts a single oversized sentence into pieces that each fit
// within the size limit, advancing rune by rune in the model's units.
func (c *Chunker) forceSplit(sentence string) []string {
	var pieces []string
	runes := []rune(sentence)

	start := 0
	for start < len(runes) {
		end := start + 1
		for end < len(runes) && c.sizeFn(string(runes[start:end+1])) <= c.maxChunkSize {
			end++
		}
		pieces = append(pieces, string(runes[start:end]))
		start = end
	}

	return pieces
}

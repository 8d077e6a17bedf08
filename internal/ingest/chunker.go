package ingest

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// ChunkerConfig holds chunking configuration.
type ChunkerConfig struct {
	ChunkSize    int // tokens per chunk (default: 512)
	ChunkOverlap int // token overlap carried between chunks (default: 50)
}

// Chunk is one passage-sized slice of a document.
type Chunk struct {
	Text   string
	Seq    int // position within the document, 0-based
	Tokens int
}

// Chunker splits document text into passage-sized chunks.
type Chunker interface {
	ChunkText(text string) ([]Chunk, error)
	CountTokens(text string) int
}

type tokenChunker struct {
	config   ChunkerConfig
	encoding *tiktoken.Tiktoken
}

// NewChunker creates a token-budgeted chunker. Paragraph boundaries are
// preferred; paragraphs larger than the chunk budget are split on token
// boundaries directly.
func NewChunker(config ChunkerConfig) (Chunker, error) {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 512
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	} else if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 50
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 4
	}

	// cl100k_base matches the embedding models this feeds.
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("get encoding: %w", err)
	}

	return &tokenChunker{config: config, encoding: encoding}, nil
}

func (c *tokenChunker) CountTokens(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

func (c *tokenChunker) ChunkText(text string) ([]Chunk, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var chunks []Chunk
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		body := strings.TrimSpace(current.String())
		if body == "" {
			current.Reset()
			currentTokens = 0
			return
		}
		chunks = append(chunks, Chunk{Text: body, Seq: len(chunks), Tokens: c.CountTokens(body)})

		// Seed the next chunk with the tail of this one so context carries
		// across the boundary.
		tail := c.overlapTail(body)
		current.Reset()
		if tail != "" {
			current.WriteString(tail)
			current.WriteString("\n\n")
			currentTokens = c.CountTokens(tail)
		} else {
			currentTokens = 0
		}
	}

	for _, para := range splitParagraphs(text) {
		paraTokens := c.CountTokens(para)

		if paraTokens > c.config.ChunkSize {
			flush()
			for _, piece := range c.splitOversize(para) {
				chunks = append(chunks, Chunk{Text: piece, Seq: len(chunks), Tokens: c.CountTokens(piece)})
			}
			current.Reset()
			currentTokens = 0
			continue
		}

		if currentTokens+paraTokens > c.config.ChunkSize && current.Len() > 0 {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}

	if strings.TrimSpace(current.String()) != "" {
		body := strings.TrimSpace(current.String())
		chunks = append(chunks, Chunk{Text: body, Seq: len(chunks), Tokens: c.CountTokens(body)})
	}

	return chunks, nil
}

// overlapTail returns the last ChunkOverlap tokens of text, decoded back to
// a string.
func (c *tokenChunker) overlapTail(text string) string {
	if c.config.ChunkOverlap == 0 {
		return ""
	}
	tokens := c.encoding.Encode(text, nil, nil)
	if len(tokens) <= c.config.ChunkOverlap {
		return ""
	}
	return strings.TrimSpace(c.encoding.Decode(tokens[len(tokens)-c.config.ChunkOverlap:]))
}

// splitOversize cuts a paragraph that exceeds the chunk budget on raw token
// boundaries, keeping the configured overlap between consecutive pieces.
func (c *tokenChunker) splitOversize(para string) []string {
	tokens := c.encoding.Encode(para, nil, nil)
	step := c.config.ChunkSize - c.config.ChunkOverlap
	if step <= 0 {
		step = c.config.ChunkSize
	}

	var pieces []string
	for start := 0; start < len(tokens); start += step {
		end := start + c.config.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		piece := strings.TrimSpace(c.encoding.Decode(tokens[start:end]))
		if piece != "" {
			pieces = append(pieces, piece)
		}
		if end == len(tokens) {
			break
		}
	}
	return pieces
}

func splitParagraphs(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para != "" {
			out = append(out, para)
		}
	}
	return out
}

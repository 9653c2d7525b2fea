// Package docparse extracts text and images from uploaded study documents.
// Only plain text ships in the core; PDF/DOCX/PPTX extractors register
// behind the same Parser interface.
package docparse

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/llmerrors"
)

// Page is one extracted page of a document.
type Page struct {
	Number int                  `json:"page"`
	Text   string               `json:"text"`
	Images []schemas.ImageInput `json:"images,omitempty"`
}

// Parser extracts pages from one document format.
type Parser interface {
	// Extensions lists the lowercased file extensions handled, with dot.
	Extensions() []string
	// Parse reads the document and returns its pages in order.
	Parse(ctx context.Context, filename string, r io.Reader) ([]Page, error)
}

// Registry dispatches uploads to the parser registered for the extension.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry builds a registry preloaded with the plain-text parser.
func NewRegistry() *Registry {
	reg := &Registry{parsers: make(map[string]Parser)}
	reg.Register(TextParser{})
	return reg
}

// Register adds a parser for its declared extensions, replacing any
// previous handler.
func (reg *Registry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		reg.parsers[strings.ToLower(ext)] = p
	}
}

// Supported lists the registered extensions.
func (reg *Registry) Supported() []string {
	out := make([]string, 0, len(reg.parsers))
	for ext := range reg.parsers {
		out = append(out, ext)
	}
	return out
}

// Parse dispatches on the file extension.
func (reg *Registry) Parse(ctx context.Context, filename string, r io.Reader) ([]Page, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	p, ok := reg.parsers[ext]
	if !ok {
		return nil, llmerrors.New(llmerrors.KindInvalidInput, 400,
			fmt.Sprintf("unsupported file type %q", ext))
	}
	return p.Parse(ctx, filename, r)
}

// -- Plain text --

// textPageSize bounds one logical page of plain text.
const textPageSize = 4000

// TextParser splits a UTF-8 text file into fixed-size pages on rune
// boundaries.
type TextParser struct{}

func (TextParser) Extensions() []string { return []string{".txt", ".md"} }

func (TextParser) Parse(ctx context.Context, filename string, r io.Reader) ([]Page, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	if !utf8.Valid(raw) {
		return nil, llmerrors.New(llmerrors.KindInvalidInput, 400,
			fmt.Sprintf("%s is not valid UTF-8 text", filename))
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, llmerrors.New(llmerrors.KindInvalidInput, 400,
			fmt.Sprintf("%s contains no text", filename))
	}

	var pages []Page
	runes := []rune(text)
	for start := 0; start < len(runes); start += textPageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + textPageSize
		if end > len(runes) {
			end = len(runes)
		}
		pages = append(pages, Page{
			Number: len(pages) + 1,
			Text:   string(runes[start:end]),
		})
	}
	return pages, nil
}

// JoinText concatenates page texts for the generation pipeline.
func JoinText(pages []Page) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n\n")
}

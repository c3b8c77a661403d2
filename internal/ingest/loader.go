// Package ingest reads the documents of a category folder into pages of text.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"

	"rag/internal/domain"
	"rag/internal/logger"
)

// DefaultInclude selects the files loaded from a category folder. Patterns are
// matched case-insensitively against the slash-separated path relative to
// the folder.
var DefaultInclude = []string{"*.pdf", "*.txt", "*.md"}

// Result is the outcome of loading one category.
type Result struct {
	Documents []domain.Document
	// Warnings lists files that were skipped because they could not be read.
	Warnings []*domain.DocumentError
}

// Loader reads documents from <root>/<category key>/.
type Loader struct {
	root    string
	include []string
}

// NewLoader creates a loader rooted at dataDir. A nil include uses DefaultInclude.
func NewLoader(dataDir string, include []string) (*Loader, error) {
	if len(include) == 0 {
		include = DefaultInclude
	}
	patterns := make([]string, 0, len(include))
	for _, p := range include {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: invalid include pattern %q", domain.ErrConfiguration, p)
		}
		patterns = append(patterns, p)
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("%w: no include patterns", domain.ErrConfiguration)
	}
	return &Loader{root: dataDir, include: patterns}, nil
}

// Dir returns the folder holding the documents of c.
func (l *Loader) Dir(c domain.Category) string {
	return filepath.Join(l.root, c.Key())
}

// Load reads every matching file of the category. Unreadable files become
// warnings. A missing folder, or one without any readable document, returns
// an error wrapping domain.ErrNoDocuments.
func (l *Loader) Load(ctx context.Context, c domain.Category) (*Result, error) {
	dir := l.Dir(c)
	log := logger.FromContext(ctx).With("category", c.Key())
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Warn("Document folder not found", "dir", dir)
		return nil, fmt.Errorf("%w: folder %s not found", domain.ErrNoDocuments, dir)
	}

	res := &Result{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !l.matches(rel) {
			return nil
		}
		doc, err := readDocument(path, rel, c)
		if err != nil {
			derr := &domain.DocumentError{Source: rel, Err: err}
			log.Warn("Skipping unreadable document", "source", rel, "error", err)
			res.Warnings = append(res.Warnings, derr)
			return nil
		}
		if len(doc.Pages) == 0 {
			log.Warn("Skipping document without text", "source", rel)
			res.Warnings = append(res.Warnings, &domain.DocumentError{Source: rel, Err: errors.New("no extractable text")})
			return nil
		}
		res.Documents = append(res.Documents, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dir, err)
	}
	if len(res.Documents) == 0 {
		log.Warn("No documents found", "dir", dir, "skipped", len(res.Warnings))
		return res, fmt.Errorf("%w: no readable documents in %s", domain.ErrNoDocuments, dir)
	}
	log.Info("Loaded documents", "documents", len(res.Documents), "skipped", len(res.Warnings))
	return res, nil
}

func (l *Loader) matches(rel string) bool {
	lower := strings.ToLower(rel)
	for _, p := range l.include {
		if ok, _ := doublestar.Match(p, lower); ok {
			return true
		}
	}
	return false
}

func readDocument(path, rel string, c domain.Category) (domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, err
	}
	doc := domain.Document{ID: rel, Path: path, Category: c}
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("application/pdf"):
		doc.Pages, err = pdfPages(data)
	case strings.HasPrefix(mt.String(), "text/"):
		doc.Pages, err = textPages(data)
	default:
		err = fmt.Errorf("unsupported content type %s", mt.String())
	}
	if err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// pdfPages extracts the plain text of each page. Pages that fail to decode
// or hold no text are dropped; page numbers stay 1-based PDF page numbers.
func pdfPages(data []byte) (pages []domain.Page, err error) {
	defer func() {
		// the pdf package panics on some malformed streams
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = normalize(text)
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: i, Text: text})
	}
	return pages, nil
}

func textPages(data []byte) ([]domain.Page, error) {
	if !utf8.Valid(data) {
		return nil, errors.New("text is not valid utf-8")
	}
	text := normalize(string(data))
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []domain.Page{{Number: 1, Text: text}}, nil
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

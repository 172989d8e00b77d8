// internal/doctext/extractor.go
package doctext

import (
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/factuscan/factuscan/internal/scrapererr"
)

// ExtractText opens a downloaded document and returns its per-page text
// joined by newlines. No OCR fallback: a document without a text layer is an
// extraction failure and the bill is skipped by the caller.
func ExtractText(path string) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", scrapererr.Extraction("cannot open document "+path, err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return "", scrapererr.Extraction("document has no extractable text layer: "+path, nil)
	}
	return strings.Join(pages, "\n"), nil
}

// ExtractBytes extracts text from an in-memory document, used for downloads
// that were intercepted before ever touching the disk path.
func ExtractBytes(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", scrapererr.Extraction("cannot open in-memory document", err)
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return "", scrapererr.Extraction("in-memory document has no extractable text layer", nil)
	}
	return strings.Join(pages, "\n"), nil
}

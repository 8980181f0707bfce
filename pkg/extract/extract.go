// Package extract turns uploaded documents into plain text.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	MIMEPDF  = "application/pdf"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNotImplemented  = errors.New("DOCX parsing not implemented yet")
	ErrUnreadable      = errors.New("could not read document")
	ErrEmptyExtraction = errors.New("could not extract text from file")
)

// Allowed reports whether contentType is an accepted upload type.
func Allowed(contentType string) bool {
	switch normalizeType(contentType) {
	case MIMEPDF, MIMEDOCX:
		return true
	}
	return false
}

// Extract returns the document text for an allowed content type.
func Extract(data []byte, contentType string) (string, error) {
	var (
		text string
		err  error
	)
	switch normalizeType(contentType) {
	case MIMEPDF:
		text, err = extractPDF(data)
	case MIMEDOCX:
		return "", ErrNotImplemented
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyExtraction
	}
	return text, nil
}

func normalizeType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(contentType)
	}
	return mediaType
}

func extractPDF(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrUnreadable, r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	var sb strings.Builder
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		sb.WriteString(pageText)
	}
	return sb.String(), nil
}

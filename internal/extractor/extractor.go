package extractor

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// pageSeparator joins the text of consecutive PDF pages.
const pageSeparator = "\n\n"

// Extract converts raw file bytes into plain text for the given format.
// It is a pure function with no shared state and is safe for concurrent use.
func Extract(data []byte, format Format) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyInput
	}

	switch format {
	case FormatText, FormatMarkdown:
		return decodeText(data)
	case FormatPDF:
		return extractPDF(data)
	case FormatDOCX:
		return extractDOCX(data)
	case FormatXLSX:
		return extractXLSX(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// decodeText decodes bytes as UTF-8, then UTF-16 when a BOM is present,
// then falls back to Latin-1. Latin-1 maps every byte, so decoding a
// text file never hard-fails.
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return strings.TrimPrefix(string(data), "\ufeff"), nil
	}

	if len(data) >= 2 && ((data[0] == 0xFF && data[1] == 0xFE) || (data[0] == 0xFE && data[1] == 0xFF)) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		decoded, err := dec.Bytes(data)
		if err == nil && utf8.Valid(decoded) {
			return string(decoded), nil
		}
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return string(decoded), nil
}

func extractPDF(data []byte) (text string, err error) {
	// the pdf package panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrExtractionFailed, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	var pages []string
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %v", ErrExtractionFailed, i, err)
		}
		if strings.TrimSpace(pageText) != "" {
			pages = append(pages, pageText)
		}
	}

	// a PDF with no text layer (e.g. a pure-image scan) is not an error
	// here; emptiness is judged by the pipeline
	return strings.Join(pages, pageSeparator), nil
}

func extractDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer r.Close()

	return docxPlainText(r.Editable().GetContent()), nil
}

// docxPlainText walks the document.xml token stream and collects the
// character data of every w:t run, one line per w:p paragraph.
func docxPlainText(content string) string {
	dec := xml.NewDecoder(strings.NewReader(content))
	dec.Strict = false

	var text strings.Builder
	var paragraph strings.Builder
	inRun := false
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inRun = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				if strings.TrimSpace(paragraph.String()) != "" {
					text.WriteString(strings.TrimSpace(paragraph.String()))
					text.WriteString("\n")
				}
				paragraph.Reset()
			}
		case xml.CharData:
			if inRun {
				paragraph.Write(t)
			}
		}
	}
	return strings.TrimSpace(text.String())
}

func extractXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer f.Close()

	var sheets []string
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			for _, cell := range row {
				text.WriteString(cell + "\t")
			}
			text.WriteString("\n")
		}
		sheets = append(sheets, text.String())
	}
	return strings.Join(sheets, "\n"), nil
}

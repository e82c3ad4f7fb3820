package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	mimePDF  = "application/pdf"
	mimePNG  = "image/png"
	mimeHEIC = "image/heic"
)

// Document is a receipt file ready to be sent to a model
type Document struct {
	Data     []byte
	MIMEType string
}

// NormalizeContentType lower-cases a declared content type and drops its
// parameters. An empty type is sniffed from the data.
func NormalizeContentType(contentType string, data []byte) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mimeType, ';'); i != -1 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		switch {
		case isHEICFormat(data):
			mimeType = mimeHEIC
		case len(data) > 0:
			mimeType = http.DetectContentType(data)
			if i := strings.IndexByte(mimeType, ';'); i != -1 {
				mimeType = mimeType[:i]
			}
		}
	}
	return mimeType
}

// PrepareDocument converts a receipt into a form the model accepts. PDFs are
// passed through when keepPDF is set and rendered to PNG otherwise; every
// other image format is converted to PNG.
func PrepareDocument(data []byte, contentType string, keepPDF bool) (Document, error) {
	mimeType := NormalizeContentType(contentType, data)

	switch {
	case mimeType == mimePDF && keepPDF:
		return Document{Data: data, MIMEType: mimePDF}, nil
	case mimeType == mimePDF:
		pngData, err := pdfToImage(data)
		if err != nil {
			return Document{}, fmt.Errorf("converting PDF to image: %w", err)
		}
		return Document{Data: pngData, MIMEType: mimePNG}, nil
	case mimeType == mimePNG && !isHEICFormat(data):
		return Document{Data: data, MIMEType: mimePNG}, nil
	}

	pngData, err := imageToPNG(data, mimeType)
	if err != nil {
		return Document{}, fmt.Errorf("converting image to PNG: %w", err)
	}
	return Document{Data: pngData, MIMEType: mimePNG}, nil
}

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Most receipts are a single page
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// imageToPNG converts any supported image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)

	// Go's image package has no HEIC decoder
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if msg := err.Error(); strings.Contains(msg, "unknown format") || strings.Contains(msg, "unsupported") {
				return nil, fmt.Errorf("unsupported document format %q. Supported formats: PDF, JPEG, PNG, GIF, HEIC, HEIF: %w", mimeType, err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat looks for an ftyp box with a HEIC/HEIF brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

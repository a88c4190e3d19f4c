package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// PDFMimeType is the only accepted attachment type.
const PDFMimeType string = "application/pdf"

var (
	ErrInvalidAttachment  = errors.New("attachment must be a pdf file")
	ErrAttachmentTooLarge = errors.New("attachment is too large")
	ErrMalformedDataURL   = errors.New("attachment is not a base64 data url")
)

// EncodeAttachment reads a pdf from r and returns it as a base64 data url
// ready to be stored in Book.PDFData. maxBytes <= 0 means no limit.
func EncodeAttachment(r io.Reader, maxBytes int64) (string, error) {
	if maxBytes > 0 {
		r = io.LimitReader(r, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read attachment: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrAttachmentTooLarge, maxBytes)
	}
	if http.DetectContentType(data) != PDFMimeType {
		return "", ErrInvalidAttachment
	}
	return "data:" + PDFMimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// DecodeAttachment splits a data url into its mime type and content.
func DecodeAttachment(dataURL string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	mimeType, payload, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return "", nil, ErrMalformedDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
	}
	return mimeType, data, nil
}

// ValidateAttachment checks that dataURL holds a pdf.
func ValidateAttachment(dataURL string) error {
	mimeType, data, err := DecodeAttachment(dataURL)
	if err != nil {
		return err
	}
	if mimeType != PDFMimeType || http.DetectContentType(data) != PDFMimeType {
		return ErrInvalidAttachment
	}
	return nil
}

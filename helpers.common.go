package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
)

type (
	ContextKey        string
	missingFieldError string
)

const (
	BookIDPrefix            string     = "b"
	HistoryIDPrefix         string     = "h"
	RequestIDPrefix         string     = "r"
	RequestIDContextKey     ContextKey = "request.id"
	RequestNumberContextKey ContextKey = "request.number"
)

func (m missingFieldError) Error() string {
	return string(m) + " is required"
}

// GetValueFromContext returns the value of a given key in the context
// if this key is not available, it returns an empty string.
func GetValueFromContext(ctx context.Context, contextKey ContextKey) string {
	if val := ctx.Value(contextKey); val != nil {
		return val.(string)
	}
	return ""
}

// GetRequestNumberFromContext returns the request number set in
// the context. if not previously set then it returns 0.
func GetRequestNumberFromContext(ctx context.Context) uint64 {
	if val := ctx.Value(RequestNumberContextKey); val != nil {
		return val.(uint64)
	}
	return 0
}

// DecodeJSONRequestBody is a helper function to read the json content of a request into v.
func DecodeJSONRequestBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.New("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// ValidateBookInput is a helper function to check if the content of a book creation request is valid.
func ValidateBookInput(in *BookInput) error {
	if len(strings.TrimSpace(in.Title)) == 0 {
		return missingFieldError("title")
	}

	if len(strings.TrimSpace(in.Author)) == 0 {
		return missingFieldError("author")
	}

	if len(strings.TrimSpace(in.Category)) == 0 {
		return missingFieldError("category")
	}

	if len(strings.TrimSpace(in.ReleaseDate)) == 0 {
		return missingFieldError("releaseDate")
	}

	if in.PDFData != "" {
		if in.PDFName == "" {
			return missingFieldError("pdfName")
		}
		return ValidateAttachment(in.PDFData)
	}

	return nil
}

// ValidateBookPatch is a helper function to check if the content of a book update request is valid.
// Required fields may be left out but not emptied.
func ValidateBookPatch(p *BookPatch) error {
	if p.IsEmpty() {
		return errors.New("no field to update")
	}

	required := []struct {
		name  string
		value *string
	}{
		{"title", p.Title},
		{"author", p.Author},
		{"category", p.Category},
		{"releaseDate", p.ReleaseDate},
	}
	for _, f := range required {
		if f.value != nil && len(strings.TrimSpace(*f.value)) == 0 {
			return missingFieldError(f.name)
		}
	}

	if p.PDFData != nil && *p.PDFData != "" {
		if p.PDFName == nil || *p.PDFName == "" {
			return missingFieldError("pdfName")
		}
		return ValidateAttachment(*p.PDFData)
	}

	return nil
}

// GetRequestSourceIP helps find the source IP of the caller.
func GetRequestSourceIP(r *http.Request) string {
	// Get IP from the X-REAL-IP header
	ip := r.Header.Get("X-REAL-IP")
	netIP := net.ParseIP(ip)
	if netIP != nil {
		return ip
	}

	// Get IP from X-FORWARDED-FOR header
	ips := r.Header.Get("X-FORWARDED-FOR")
	splitIps := strings.Split(ips, ",")
	for _, ip := range splitIps {
		netIP = net.ParseIP(ip)
		if netIP != nil {
			return ip
		}
	}

	// Get IP from RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return ""
	}
	netIP = net.ParseIP(ip)
	if netIP != nil {
		return ip
	}
	return ""
}

// IsAppRunningInDocker checks the existence of the .dockerenv
// file at the root directory and returns a boolean result. This
// helps know if the App is running in a docker container or not.
func IsAppRunningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

package main

import (
	"errors"
	"time"
)

// LoanPeriod is the time a borrowed book may be kept.
const LoanPeriod = 14 * 24 * time.Hour

// Errors surfaced by the library store.
var (
	ErrNotFound             = errors.New("library: book not found")
	ErrStorageFailure       = errors.New("library: storage refused the write")
	ErrSerializationFailure = errors.New("library: failed to serialize collection")
	ErrReadCorruption       = errors.New("library: persisted collection is corrupted")
)

// Action is the kind of mutation recorded into the history.
type Action string

const (
	ActionAdded    Action = "Added"
	ActionUpdated  Action = "Updated"
	ActionDeleted  Action = "Deleted"
	ActionBorrowed Action = "Borrowed"
	ActionReturned Action = "Returned"
)

// IsValid tells whether a is one of the known actions.
func (a Action) IsValid() bool {
	switch a {
	case ActionAdded, ActionUpdated, ActionDeleted, ActionBorrowed, ActionReturned:
		return true
	}
	return false
}

// Book represents a catalog entry. PDFData holds the attachment as a
// MIME-type-prefixed base64 data URL.
type Book struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Category    string    `json:"category"`
	ReleaseDate string    `json:"releaseDate"`
	PDFName     string    `json:"pdfName,omitempty"`
	PDFData     string    `json:"pdfData,omitempty"`
	AddedDate   time.Time `json:"addedDate"`
}

// HasAttachment reports whether the book carries a pdf.
func (b Book) HasAttachment() bool {
	return b.PDFData != "" || b.PDFName != ""
}

// Loan is a snapshot of a Book taken when it was borrowed.
type Loan struct {
	Book
	BorrowedDate time.Time `json:"borrowedDate"`
	DueDate      time.Time `json:"dueDate"`
}

// HistoryEntry is one record of the activity log.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Action    Action    `json:"action"`
	BookTitle string    `json:"bookTitle"`
	Timestamp time.Time `json:"timestamp"`
}

// BookInput carries the user-provided fields of a new book.
type BookInput struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Category    string `json:"category"`
	ReleaseDate string `json:"releaseDate"`
	PDFName     string `json:"pdfName,omitempty"`
	PDFData     string `json:"pdfData,omitempty"`
}

// BookPatch carries the fields to change on an existing book.
// Nil fields are left untouched.
type BookPatch struct {
	Title       *string `json:"title,omitempty"`
	Author      *string `json:"author,omitempty"`
	Category    *string `json:"category,omitempty"`
	ReleaseDate *string `json:"releaseDate,omitempty"`
	PDFName     *string `json:"pdfName,omitempty"`
	PDFData     *string `json:"pdfData,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p BookPatch) IsEmpty() bool {
	return p.Title == nil && p.Author == nil && p.Category == nil &&
		p.ReleaseDate == nil && p.PDFName == nil && p.PDFData == nil
}

// Apply returns a copy of b with the patch fields merged in.
// The id and the added date never change.
func (p BookPatch) Apply(b Book) Book {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&b.Title, p.Title)
	set(&b.Author, p.Author)
	set(&b.Category, p.Category)
	set(&b.ReleaseDate, p.ReleaseDate)
	set(&b.PDFName, p.PDFName)
	set(&b.PDFData, p.PDFData)
	return b
}

// Snapshot is a full copy of the three collections.
type Snapshot struct {
	Books   []Book         `json:"books"`
	Loans   []Loan         `json:"borrowedBooks"`
	History []HistoryEntry `json:"history"`
}

// Sources of the capacity figure of a StorageUsage.
const (
	CapacitySourceBackend  string = "backend"
	CapacitySourceEstimate string = "estimate"
)

// StorageUsage is an advisory report of the space taken by the library.
type StorageUsage struct {
	Books     int64   `json:"books"`
	Loans     int64   `json:"borrowedBooks"`
	History   int64   `json:"history"`
	Total     int64   `json:"total"`
	Used      int64   `json:"used"`
	Capacity  int64   `json:"capacity"`
	Remaining int64   `json:"remaining"`
	Percent   float64 `json:"percent"`
	Source    string  `json:"source"`
}

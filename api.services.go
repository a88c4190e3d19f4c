package main

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type LibraryServiceProvider interface {
	Add(ctx context.Context, in BookInput) (Book, error)
	Update(ctx context.Context, id string, patch BookPatch) (Book, error)
	Delete(ctx context.Context, id string) (bool, error)
	Borrow(ctx context.Context, id string) (*Loan, error)
	Return(ctx context.Context, id string) (bool, error)
	Search(ctx context.Context, query string) []Book
	GetBook(ctx context.Context, id string) (Book, error)
	ListLoans(ctx context.Context) []Loan
	ListHistory(ctx context.Context) []HistoryEntry
	Snapshot(ctx context.Context) Snapshot
	StorageUsage(ctx context.Context) (StorageUsage, error)
	RemoveAttachment(ctx context.Context, id string) (Book, error)
	RemoveAllAttachments(ctx context.Context) (int, error)
	CompactHistory(ctx context.Context, keep int) (int, error)
	Clear(ctx context.Context) error
	Archive(ctx context.Context, limit int) ([]HistoryEntry, error)
}

// LibraryService gives the library a single logical thread of control:
// every call holds the mutex for its whole duration.
type LibraryService struct {
	logger  *zap.Logger
	mu      sync.Mutex
	library *Library
	archive ArchiveStorage
}

// NewLibraryService wraps library. archive may be nil when disabled.
func NewLibraryService(logger *zap.Logger, library *Library, archive ArchiveStorage) *LibraryService {
	return &LibraryService{logger: logger, library: library, archive: archive}
}

func (ls *LibraryService) Add(ctx context.Context, in BookInput) (Book, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.Add(ctx, in)
}

func (ls *LibraryService) Update(ctx context.Context, id string, patch BookPatch) (Book, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.Update(ctx, id, patch)
}

func (ls *LibraryService) Delete(ctx context.Context, id string) (bool, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.Delete(ctx, id)
}

func (ls *LibraryService) Borrow(ctx context.Context, id string) (*Loan, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.Borrow(ctx, id)
}

func (ls *LibraryService) Return(ctx context.Context, id string) (bool, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.Return(ctx, id)
}

// SwallowedFailure reports the write failure the last delete or return
// ignored under the lenient rollback policy.
func (ls *LibraryService) SwallowedFailure() error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.SwallowedFailure()
}

// Search lists the whole catalog for a blank query.
func (ls *LibraryService) Search(ctx context.Context, query string) []Book {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if strings.TrimSpace(query) == "" {
		return ls.library.ListBooks()
	}
	return ls.library.Search(query)
}

func (ls *LibraryService) GetBook(ctx context.Context, id string) (Book, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.GetBook(id)
}

func (ls *LibraryService) ListLoans(ctx context.Context) []Loan {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.ListLoans()
}

func (ls *LibraryService) ListHistory(ctx context.Context) []HistoryEntry {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.ListHistory()
}

func (ls *LibraryService) Snapshot(ctx context.Context) Snapshot {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.Snapshot()
}

func (ls *LibraryService) StorageUsage(ctx context.Context) (StorageUsage, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.StorageUsage(ctx)
}

func (ls *LibraryService) RemoveAttachment(ctx context.Context, id string) (Book, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.RemoveAttachment(ctx, id)
}

func (ls *LibraryService) RemoveAllAttachments(ctx context.Context) (int, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.RemoveAllAttachments(ctx)
}

func (ls *LibraryService) CompactHistory(ctx context.Context, keep int) (int, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.CompactHistory(ctx, keep)
}

func (ls *LibraryService) Clear(ctx context.Context) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.library.Clear(ctx)
}

// Archive does not need the library lock: the bolt archive has its own.
func (ls *LibraryService) Archive(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if ls.archive == nil {
		return nil, ErrArchiveDisabled
	}
	return ls.archive.List(ctx, limit)
}

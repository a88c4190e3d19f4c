package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// Rollback policies applied to delete and return on persistence failure.
const (
	RollbackLenient string = "lenient"
	RollbackStrict  string = "strict"
)

// Library is the single source of truth for the catalog, the active
// loans and the history. Every mutation is written through to the
// key/value store before it returns. A Library is not safe for
// concurrent use; LibraryService serializes the calls.
type Library struct {
	logger  *zap.Logger
	config  *LibraryConfig
	kv      KVStore
	clock   Clocker
	ids     UIDHandler
	feed    Queuer
	books   []Book
	loans   []Loan
	history []HistoryEntry

	// swallowed is the write failure the last delete or return ignored
	// under the lenient policy.
	swallowed error
}

// OpenLibrary loads the three collections from kv. Corrupted collections
// start empty and invalid records are dropped. feed may be nil.
func OpenLibrary(ctx context.Context, logger *zap.Logger, config *LibraryConfig, kv KVStore, clock Clocker, ids UIDHandler, feed Queuer) (*Library, error) {
	l := &Library{
		logger: logger,
		config: config,
		kv:     kv,
		clock:  clock,
		ids:    ids,
		feed:   feed,
	}
	if err := l.load(ctx); err != nil {
		return nil, err
	}
	l.logger.Info("library: loaded",
		zap.Int("library.books", len(l.books)),
		zap.Int("library.loans", len(l.loans)),
		zap.Int("library.history", len(l.history)),
	)
	return l, nil
}

// Add creates a new book with a fresh id and added date.
func (l *Library) Add(ctx context.Context, in BookInput) (Book, error) {
	book := Book{
		ID:          l.newBookID(),
		Title:       in.Title,
		Author:      in.Author,
		Category:    in.Category,
		ReleaseDate: in.ReleaseDate,
		PDFName:     in.PDFName,
		PDFData:     in.PDFData,
		AddedDate:   l.clock.Now(),
	}
	l.books = append(l.books, book)
	if err := l.save(ctx, KeyBooks, l.books); err != nil {
		l.books = l.books[:len(l.books)-1]
		l.logger.Error("library: failed to add book", zap.String("book.title", book.Title), zap.Error(err))
		return Book{}, err
	}
	l.record(ctx, ActionAdded, book.Title)
	return book, nil
}

// Update merges patch into the book identified by id.
func (l *Library) Update(ctx context.Context, id string, patch BookPatch) (Book, error) {
	i := l.indexOfBook(id)
	if i < 0 {
		return Book{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prior := l.books[i]
	l.books[i] = patch.Apply(prior)
	if err := l.save(ctx, KeyBooks, l.books); err != nil {
		l.books[i] = prior
		l.logger.Error("library: failed to update book", zap.String("book.id", id), zap.Error(err))
		return Book{}, err
	}
	l.record(ctx, ActionUpdated, l.books[i].Title)
	return l.books[i], nil
}

// Delete removes the book identified by id and reports whether one was
// removed. An absent id is a no-op. On persistence failure the prior
// catalog is restored; the error only reaches the caller under the
// strict rollback policy.
func (l *Library) Delete(ctx context.Context, id string) (bool, error) {
	l.swallowed = nil
	i := l.indexOfBook(id)
	if i < 0 {
		return false, nil
	}
	prior := l.books
	removed := prior[i]
	l.books = slices.Delete(slices.Clone(prior), i, i+1)
	if err := l.save(ctx, KeyBooks, l.books); err != nil {
		l.books = prior
		l.logger.Error("library: failed to delete book", zap.String("book.id", id), zap.Error(err))
		if l.strict() {
			return false, err
		}
		l.swallowed = err
		return false, nil
	}
	l.record(ctx, ActionDeleted, removed.Title)
	return true, nil
}

// Borrow records a loan of the book identified by id. It returns a nil
// loan without error when there is no such book.
func (l *Library) Borrow(ctx context.Context, id string) (*Loan, error) {
	i := l.indexOfBook(id)
	if i < 0 {
		l.logger.Debug("library: nothing to borrow", zap.String("book.id", id))
		return nil, nil
	}
	now := l.clock.Now()
	loan := Loan{Book: l.books[i], BorrowedDate: now, DueDate: now.Add(LoanPeriod)}
	l.loans = append(l.loans, loan)
	if err := l.save(ctx, KeyLoans, l.loans); err != nil {
		l.loans = l.loans[:len(l.loans)-1]
		l.logger.Error("library: failed to borrow book", zap.String("book.id", id), zap.Error(err))
		return nil, err
	}
	l.record(ctx, ActionBorrowed, loan.Title)
	return &loan, nil
}

// Return removes one loan of the book identified by id and reports
// whether one was removed. Under the lenient policy a persistence
// failure is logged and the removal stands.
func (l *Library) Return(ctx context.Context, id string) (bool, error) {
	l.swallowed = nil
	i := l.indexOfLoan(id)
	if i < 0 {
		return false, nil
	}
	prior := l.loans
	returned := prior[i]
	l.loans = slices.Delete(slices.Clone(prior), i, i+1)
	if err := l.save(ctx, KeyLoans, l.loans); err != nil {
		l.logger.Error("library: failed to return book", zap.String("book.id", id), zap.Error(err))
		if l.strict() {
			l.loans = prior
			return false, err
		}
		l.swallowed = err
		return true, nil
	}
	l.record(ctx, ActionReturned, returned.Title)
	return true, nil
}

// SwallowedFailure returns the write failure ignored by the last delete
// or return under the lenient policy, or nil.
func (l *Library) SwallowedFailure() error {
	return l.swallowed
}

// Search returns the books whose title, author or category contains
// query, ignoring case. The empty query is handled by the callers.
func (l *Library) Search(query string) []Book {
	q := strings.ToLower(query)
	found := []Book{}
	for _, b := range l.books {
		if strings.Contains(strings.ToLower(b.Title), q) ||
			strings.Contains(strings.ToLower(b.Author), q) ||
			strings.Contains(strings.ToLower(b.Category), q) {
			found = append(found, b)
		}
	}
	return found
}

// GetBook returns the book identified by id.
func (l *Library) GetBook(id string) (Book, error) {
	i := l.indexOfBook(id)
	if i < 0 {
		return Book{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return l.books[i], nil
}

// ListBooks returns a copy of the catalog.
func (l *Library) ListBooks() []Book {
	return slices.Clone(l.books)
}

// ListLoans returns a copy of the active loans.
func (l *Library) ListLoans() []Loan {
	return slices.Clone(l.loans)
}

// ListHistory returns a copy of the history, newest first.
func (l *Library) ListHistory() []HistoryEntry {
	return slices.Clone(l.history)
}

// Snapshot returns copies of all three collections.
func (l *Library) Snapshot() Snapshot {
	return Snapshot{Books: l.ListBooks(), Loans: l.ListLoans(), History: l.ListHistory()}
}

// RemoveAttachment drops the pdf of the book identified by id. A book
// without attachment is returned unchanged.
func (l *Library) RemoveAttachment(ctx context.Context, id string) (Book, error) {
	book, err := l.GetBook(id)
	if err != nil || !book.HasAttachment() {
		return book, err
	}
	empty := ""
	return l.Update(ctx, id, BookPatch{PDFName: &empty, PDFData: &empty})
}

// RemoveAllAttachments drops the pdf of every book and loan snapshot.
// It returns the number of catalog books that were stripped.
func (l *Library) RemoveAllAttachments(ctx context.Context) (int, error) {
	priorBooks, priorLoans := l.books, l.loans
	books, stripped := slices.Clone(priorBooks), []string{}
	for i := range books {
		if books[i].HasAttachment() {
			books[i].PDFName, books[i].PDFData = "", ""
			stripped = append(stripped, books[i].Title)
		}
	}
	loans, loansChanged := slices.Clone(priorLoans), false
	for i := range loans {
		if loans[i].HasAttachment() {
			loans[i].PDFName, loans[i].PDFData = "", ""
			loansChanged = true
		}
	}

	if len(stripped) > 0 {
		l.books = books
		if err := l.save(ctx, KeyBooks, l.books); err != nil {
			l.books = priorBooks
			l.logger.Error("library: failed to remove attachments", zap.Error(err))
			return 0, err
		}
	}
	if loansChanged {
		l.loans = loans
		if err := l.save(ctx, KeyLoans, l.loans); err != nil {
			l.loans = priorLoans
			if len(stripped) > 0 {
				l.books = priorBooks
				if errB := l.save(ctx, KeyBooks, l.books); errB != nil {
					l.logger.Error("library: failed to restore catalog", zap.Error(errB))
				}
			}
			l.logger.Error("library: failed to remove loans attachments", zap.Error(err))
			return 0, err
		}
	}

	for _, title := range stripped {
		l.record(ctx, ActionUpdated, title)
	}
	return len(stripped), nil
}

// CompactHistory keeps only the keep most recent entries and returns how
// many were evicted. A keep <= 0 uses the configured compaction bound.
func (l *Library) CompactHistory(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		keep = l.config.HistoryCompactTo
	}
	if len(l.history) <= keep {
		return 0, nil
	}
	prior := l.history
	l.history = slices.Clone(prior[:keep])
	if err := l.save(ctx, KeyHistory, l.history); err != nil {
		l.history = prior
		l.logger.Error("library: failed to compact history", zap.Error(err))
		return 0, err
	}
	return len(prior) - keep, nil
}

// Clear removes every persisted collection. Collections whose removal
// failed keep their content.
func (l *Library) Clear(ctx context.Context) error {
	var errs []error
	if err := l.kv.RemoveItem(ctx, l.key(KeyBooks)); err != nil {
		errs = append(errs, err)
	} else {
		l.books = []Book{}
	}
	if err := l.kv.RemoveItem(ctx, l.key(KeyLoans)); err != nil {
		errs = append(errs, err)
	} else {
		l.loans = []Loan{}
	}
	if err := l.kv.RemoveItem(ctx, l.key(KeyHistory)); err != nil {
		errs = append(errs, err)
	} else {
		l.history = []HistoryEntry{}
	}
	if err := errors.Join(errs...); err != nil {
		l.logger.Error("library: failed to clear all data", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	l.logger.Info("library: all data cleared")
	return nil
}

// StorageUsage estimates the space used per collection. The capacity
// comes from the backend when it reports one, otherwise from the
// configured assumed capacity.
func (l *Library) StorageUsage(ctx context.Context) (StorageUsage, error) {
	var usage StorageUsage
	var err error
	if usage.Books, err = l.sizeOf(KeyBooks, l.books); err != nil {
		return usage, err
	}
	if usage.Loans, err = l.sizeOf(KeyLoans, l.loans); err != nil {
		return usage, err
	}
	if usage.History, err = l.sizeOf(KeyHistory, l.history); err != nil {
		return usage, err
	}
	usage.Total = usage.Books + usage.Loans + usage.History
	usage.Used = usage.Total
	usage.Capacity = l.config.AssumedCapacity
	usage.Source = CapacitySourceEstimate

	if reporter, ok := l.kv.(CapacityReporter); ok {
		c, errC := reporter.Capacity(ctx)
		switch {
		case errC != nil:
			l.logger.Warn("library: failed to query backend capacity", zap.Error(errC))
		case c.Limit > 0:
			usage.Used = c.Used
			usage.Capacity = c.Limit
			usage.Source = CapacitySourceBackend
		}
	}

	usage.Remaining = max(usage.Capacity-usage.Used, 0)
	if usage.Capacity > 0 {
		usage.Percent = float64(usage.Used) * 100 / float64(usage.Capacity)
	}
	return usage, nil
}

// record prepends a history entry, applies the retention bound and
// persists the history. Failures are logged only.
func (l *Library) record(ctx context.Context, action Action, title string) {
	entry := HistoryEntry{
		ID:        l.ids.Generate(HistoryIDPrefix),
		Action:    action,
		BookTitle: title,
		Timestamp: l.clock.Now(),
	}
	l.history = append([]HistoryEntry{entry}, l.history...)
	if limit := l.config.HistoryLimit; limit > 0 && len(l.history) > limit {
		l.history = l.history[:limit]
	}
	if err := l.save(ctx, KeyHistory, l.history); err != nil {
		l.logger.Warn("library: failed to persist history", zap.String("library.action", string(action)), zap.Error(err))
	}
	if l.feed == nil {
		return
	}
	if err := l.feed.Push(ctx, ActivityQueue, entry); err != nil {
		l.logger.Warn("library: failed to publish history entry", zap.String("qid", ActivityQueue), zap.Error(err))
	}
}

// save serializes v and writes it under key.
func (l *Library) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSerializationFailure, key, err)
	}
	if err = l.kv.SetItem(ctx, l.key(key), string(data)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStorageFailure, key, err)
	}
	return nil
}

func (l *Library) sizeOf(key string, v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrSerializationFailure, key, err)
	}
	return itemSize(l.key(key), string(data)), nil
}

func (l *Library) key(name string) string {
	return l.config.KeyPrefix + name
}

func (l *Library) strict() bool {
	return l.config.RollbackPolicy == RollbackStrict
}

func (l *Library) newBookID() string {
	for {
		if id := l.ids.Generate(BookIDPrefix); l.indexOfBook(id) < 0 {
			return id
		}
	}
}

func (l *Library) indexOfBook(id string) int {
	return slices.IndexFunc(l.books, func(b Book) bool { return b.ID == id })
}

func (l *Library) indexOfLoan(id string) int {
	return slices.IndexFunc(l.loans, func(ln Loan) bool { return ln.ID == id })
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// load reads and validates the three collections.
func (l *Library) load(ctx context.Context) error {
	var err error
	if l.books, err = loadCollection(ctx, l, KeyBooks, validateBook); err != nil {
		return err
	}
	l.books = l.dropDuplicateBooks(l.books)
	if l.loans, err = loadCollection(ctx, l, KeyLoans, validateLoan); err != nil {
		return err
	}
	if l.history, err = loadCollection(ctx, l, KeyHistory, validateHistoryEntry); err != nil {
		return err
	}
	if limit := l.config.HistoryLimit; limit > 0 && len(l.history) > limit {
		l.history = l.history[:limit]
	}
	return nil
}

// loadCollection decodes the array stored under key. A value which is
// not an array is discarded and the collection starts empty. Records
// failing to decode or to validate are quarantined: dropped and logged.
// Only backend read failures are returned.
func loadCollection[T any](ctx context.Context, l *Library, key string, validate func(T) error) ([]T, error) {
	items := []T{}
	raw, err := l.kv.GetItem(ctx, l.key(key))
	if errors.Is(err, ErrKeyNotFound) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s collection: %w", key, err)
	}

	var records []json.RawMessage
	if err = json.Unmarshal([]byte(raw), &records); err != nil {
		l.logger.Error("library: discarding collection",
			zap.String("library.key", key),
			zap.Int("library.size", len(raw)),
			zap.Error(fmt.Errorf("%w: %w", ErrReadCorruption, err)),
		)
		return items, nil
	}

	for i, record := range records {
		var item T
		if err = json.Unmarshal(record, &item); err == nil {
			err = validate(item)
		}
		if err != nil {
			l.logger.Warn("library: quarantined record",
				zap.String("library.key", key),
				zap.Int("library.index", i),
				zap.ByteString("library.record", truncate(record, 256)),
				zap.Error(err),
			)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (l *Library) dropDuplicateBooks(books []Book) []Book {
	seen := make(map[string]struct{}, len(books))
	unique := books[:0]
	for _, b := range books {
		if _, ok := seen[b.ID]; ok {
			l.logger.Warn("library: quarantined duplicate book", zap.String("book.id", b.ID), zap.String("book.title", b.Title))
			continue
		}
		seen[b.ID] = struct{}{}
		unique = append(unique, b)
	}
	return unique
}

func validateBook(b Book) error {
	if b.ID == "" {
		return missingFieldError("id")
	}
	if b.Title == "" {
		return missingFieldError("title")
	}
	return nil
}

func validateLoan(ln Loan) error {
	if err := validateBook(ln.Book); err != nil {
		return err
	}
	if ln.BorrowedDate.IsZero() {
		return missingFieldError("borrowedDate")
	}
	if !ln.DueDate.After(ln.BorrowedDate) {
		return errors.New("dueDate must be after borrowedDate")
	}
	return nil
}

func validateHistoryEntry(h HistoryEntry) error {
	if h.ID == "" {
		return missingFieldError("id")
	}
	if !h.Action.IsValid() {
		return fmt.Errorf("unknown action %q", h.Action)
	}
	if h.Timestamp.IsZero() {
		return missingFieldError("timestamp")
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

package main

import (
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

func (api *APIHandler) BorrowBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	logger := api.GetLoggerFromContext(r.Context())
	id := ps.ByName("id")
	loan, err := api.libraryService.Borrow(r.Context(), id)
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to borrow the book")
		return
	}
	if loan == nil {
		logger.Info("nothing to borrow", zap.String("book.id", id))
		api.sendError(w, r, http.StatusNotFound, "book does not exist", EmptyData)
		return
	}
	logger.Info("success to borrow book", zap.String("book.id", id), zap.Time("loan.due", loan.DueDate))
	api.sendResponse(w, r, http.StatusCreated, "Book borrowed successfully.", nil, loan)
}

func (api *APIHandler) GetLoans(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	loans := api.libraryService.ListLoans(r.Context())
	total := len(loans)
	api.sendResponse(w, r, http.StatusOK, "Loans fetched successfully.", &total, loans)
}

// ReturnBook ends one loan of the book. With several loans of the same
// book only the oldest one is returned.
func (api *APIHandler) ReturnBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	logger := api.GetLoggerFromContext(r.Context())
	id := ps.ByName("id")
	returned, err := api.libraryService.Return(r.Context(), id)
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to return the book")
		return
	}
	if !returned {
		logger.Info("nothing to return", zap.String("book.id", id))
		api.sendError(w, r, http.StatusNotFound, "book is not borrowed", EmptyData)
		return
	}
	logger.Info("success to return book", zap.String("book.id", id))
	api.sendResponse(w, r, http.StatusOK, "Book returned successfully.", nil, map[string]string{"id": id})
}

func (api *APIHandler) GetHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	history := api.libraryService.ListHistory(r.Context())
	total := len(history)
	api.sendResponse(w, r, http.StatusOK, "History fetched successfully.", &total, history)
}

// CompactHistory trims the history to `keep` entries, or to the
// configured compaction bound when not provided.
func (api *APIHandler) CompactHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	keep, ok := api.intQueryParam(w, r, "keep")
	if !ok {
		return
	}
	evicted, err := api.libraryService.CompactHistory(r.Context(), keep)
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to compact the history")
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to compact history", zap.Int("history.evicted", evicted))
	api.sendResponse(w, r, http.StatusOK, "History compacted successfully.", nil, map[string]int{"evicted": evicted})
}

// GetArchive lists archived history entries, newest first.
func (api *APIHandler) GetArchive(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit, ok := api.intQueryParam(w, r, "limit")
	if !ok {
		return
	}
	entries, err := api.libraryService.Archive(r.Context(), limit)
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to fetch the archive")
		return
	}
	total := len(entries)
	api.sendResponse(w, r, http.StatusOK, "Archive fetched successfully.", &total, entries)
}

func (api *APIHandler) GetStorageUsage(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	usage, err := api.libraryService.StorageUsage(r.Context())
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to compute the storage usage")
		return
	}
	api.sendResponse(w, r, http.StatusOK, "Storage usage computed successfully.", nil, usage)
}

// GetLibrary returns the three collections at once.
func (api *APIHandler) GetLibrary(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	api.sendResponse(w, r, http.StatusOK, "Library fetched successfully.", nil, api.libraryService.Snapshot(r.Context()))
}

// ClearLibrary wipes books, loans and history.
func (api *APIHandler) ClearLibrary(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := api.libraryService.Clear(r.Context()); err != nil {
		api.sendLibraryError(w, r, err, "failed to clear the library")
		return
	}
	api.GetLoggerFromContext(r.Context()).Warn("library cleared")
	api.sendResponse(w, r, http.StatusOK, "Library cleared successfully.", nil, EmptyData)
}

// intQueryParam reads an optional non-negative integer query parameter.
// It answers 400 and returns false when the value is invalid.
func (api *APIHandler) intQueryParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		api.sendError(w, r, http.StatusBadRequest, name+" must be a non-negative integer", raw)
		return 0, false
	}
	return v, true
}

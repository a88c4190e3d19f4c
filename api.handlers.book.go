package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// GetAllBooks lists the catalog or, with a `q` query parameter, the
// books whose title, author or category contains it.
func (api *APIHandler) GetAllBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query().Get("q")
	books := api.libraryService.Search(r.Context(), query)
	api.GetLoggerFromContext(r.Context()).Info("success to get books", zap.String("books.query", query), zap.Int("books.total", len(books)))
	total := len(books)
	api.sendResponse(w, r, http.StatusOK, "Books fetched successfully.", &total, books)
}

func (api *APIHandler) CreateBook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	logger := api.GetLoggerFromContext(r.Context())
	in := BookInput{}
	r.Body = http.MaxBytesReader(w, r.Body, 2*api.maxAttachmentSize())
	if err := DecodeJSONRequestBody(r, &in); err != nil {
		logger.Error("failed to create book", zap.Error(err))
		api.sendError(w, r, http.StatusBadRequest, "failed to create the book", err.Error())
		return
	}

	if err := ValidateBookInput(&in); err != nil {
		logger.Error("failed to create book", zap.Error(err))
		api.sendError(w, r, http.StatusBadRequest, "failed to create the book", err.Error())
		return
	}

	book, err := api.libraryService.Add(r.Context(), in)
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to create the book")
		return
	}
	logger.Info("success to create book", zap.String("book.id", book.ID))
	api.sendResponse(w, r, http.StatusCreated, "Book created successfully.", nil, book)
}

func (api *APIHandler) GetOneBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	book, err := api.libraryService.GetBook(r.Context(), id)
	if err != nil {
		api.sendLibraryError(w, r, err, "book does not exist")
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to get book", zap.String("book.id", id))
	api.sendResponse(w, r, http.StatusOK, "Book fetched successfully.", nil, book)
}

func (api *APIHandler) UpdateBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	logger := api.GetLoggerFromContext(r.Context())
	id := ps.ByName("id")
	var patch BookPatch
	r.Body = http.MaxBytesReader(w, r.Body, 2*api.maxAttachmentSize())
	if err := DecodeJSONRequestBody(r, &patch); err != nil {
		logger.Error("failed to update book", zap.String("book.id", id), zap.Error(err))
		api.sendError(w, r, http.StatusBadRequest, "failed to update the book", err.Error())
		return
	}

	if err := ValidateBookPatch(&patch); err != nil {
		logger.Error("failed to update book", zap.String("book.id", id), zap.Error(err))
		api.sendError(w, r, http.StatusBadRequest, "failed to update the book", err.Error())
		return
	}

	book, err := api.libraryService.Update(r.Context(), id, patch)
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to update the book")
		return
	}
	logger.Info("success to update book", zap.String("book.id", id))
	api.sendResponse(w, r, http.StatusOK, "Book updated successfully.", nil, book)
}

// DeleteOneBook removes a book. Its loans are left untouched.
func (api *APIHandler) DeleteOneBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	logger := api.GetLoggerFromContext(r.Context())
	id := ps.ByName("id")
	book, err := api.libraryService.GetBook(r.Context(), id)
	if err != nil {
		api.sendLibraryError(w, r, err, "book does not exist")
		return
	}

	removed, err := api.libraryService.Delete(r.Context(), id)
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to delete the book")
		return
	}
	if !removed {
		logger.Error("book was not deleted", zap.String("book.id", id))
		api.sendError(w, r, http.StatusInternalServerError, "failed to delete the book", book)
		return
	}
	logger.Info("success to delete book", zap.String("book.id", id))
	api.sendResponse(w, r, http.StatusOK, "Book deleted successfully.", nil, book)
}

// UploadAttachment attaches the pdf sent as the `file` field of a
// multipart form to the book, replacing any previous one.
func (api *APIHandler) UploadAttachment(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	logger := api.GetLoggerFromContext(r.Context())
	id := ps.ByName("id")
	maxSize := api.maxAttachmentSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		logger.Error("failed to read attachment", zap.String("book.id", id), zap.Error(err))
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		api.sendError(w, r, status, "failed to read the attachment", err.Error())
		return
	}
	defer file.Close()

	dataURL, err := EncodeAttachment(file, maxSize)
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to read the attachment")
		return
	}

	name := header.Filename
	book, err := api.libraryService.Update(r.Context(), id, BookPatch{PDFName: &name, PDFData: &dataURL})
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to attach the pdf")
		return
	}
	logger.Info("success to attach pdf", zap.String("book.id", id), zap.String("book.pdf", name), zap.Int64("book.pdf.size", header.Size))
	api.sendResponse(w, r, http.StatusOK, "Attachment saved successfully.", nil, book)
}

// DownloadAttachment serves the raw pdf of a book.
func (api *APIHandler) DownloadAttachment(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	logger := api.GetLoggerFromContext(r.Context())
	id := ps.ByName("id")
	book, err := api.libraryService.GetBook(r.Context(), id)
	if err != nil {
		api.sendLibraryError(w, r, err, "book does not exist")
		return
	}
	if book.PDFData == "" {
		api.sendError(w, r, http.StatusNotFound, "book has no attachment", EmptyData)
		return
	}

	mimeType, data, err := DecodeAttachment(book.PDFData)
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to decode the attachment")
		return
	}
	if err = r.Context().Err(); err != nil {
		w.WriteHeader(StatusClientClosedRequest)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", book.PDFName))
	if _, err = w.Write(data); err != nil {
		logger.Error("failed to send attachment", zap.String("book.id", id), zap.Error(err))
	}
}

func (api *APIHandler) DeleteAttachment(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	book, err := api.libraryService.RemoveAttachment(r.Context(), id)
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to remove the attachment")
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to remove attachment", zap.String("book.id", id))
	api.sendResponse(w, r, http.StatusOK, "Attachment removed successfully.", nil, book)
}

// StripAttachments removes every attachment of the library.
func (api *APIHandler) StripAttachments(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	count, err := api.libraryService.RemoveAllAttachments(r.Context())
	if err != nil {
		api.sendLibraryError(w, r, err, "failed to remove the attachments")
		return
	}
	api.GetLoggerFromContext(r.Context()).Info("success to remove all attachments", zap.Int("books.stripped", count))
	api.sendResponse(w, r, http.StatusOK, "Attachments removed successfully.", nil, map[string]int{"stripped": count})
}

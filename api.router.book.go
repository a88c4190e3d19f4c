package main

import (
	"github.com/julienschmidt/httprouter"
)

// SetupLibraryRoutes injects the library related api endpoints.
func (api *APIHandler) SetupLibraryRoutes(router *httprouter.Router, m *MiddlewareMap) *httprouter.Router {
	router.RedirectTrailingSlash = true
	router.GET("/", m.public(api.Index))
	router.GET("/status", m.public(api.Status))

	router.GET("/v1/library", m.public(api.GetLibrary))
	router.DELETE("/v1/library", m.public(api.ClearLibrary))

	router.POST("/v1/books", m.public(api.CreateBook))
	router.GET("/v1/books", m.public(api.GetAllBooks))
	router.GET("/v1/books/:id", m.public(api.GetOneBook))
	router.PUT("/v1/books/:id", m.public(api.UpdateBook))
	router.DELETE("/v1/books/:id", m.public(api.DeleteOneBook))
	router.POST("/v1/books/:id/attachment", m.public(api.UploadAttachment))
	router.GET("/v1/books/:id/attachment", m.public(api.DownloadAttachment))
	router.DELETE("/v1/books/:id/attachment", m.public(api.DeleteAttachment))
	router.POST("/v1/books/:id/borrow", m.public(api.BorrowBook))
	router.DELETE("/v1/attachments", m.public(api.StripAttachments))

	router.GET("/v1/loans", m.public(api.GetLoans))
	router.POST("/v1/loans/:id/return", m.public(api.ReturnBook))

	router.GET("/v1/history", m.public(api.GetHistory))
	router.POST("/v1/history/compact", m.public(api.CompactHistory))
	router.GET("/v1/history/archive", m.public(api.GetArchive))

	router.GET("/v1/storage", m.public(api.GetStorageUsage))
	return router
}

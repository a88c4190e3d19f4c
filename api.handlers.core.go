package main

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var EmptyData = struct{}{}

// Statistics holds app stats for ops.
type Statistics struct {
	version   string
	container bool
	runtime   string
	platform  string
	backend   string
	called    uint64
	started   time.Time
	status    map[int]uint64
	mu        *sync.RWMutex
}

// Maintenance holds app maintenance mode infos.
type Maintenance struct {
	enabled atomic.Bool
	message string
	started time.Time
}

// APIHandler defines the API handler.
type APIHandler struct {
	logger         *zap.Logger
	config         *Config
	stats          *Statistics
	mode           *Maintenance
	clock          Clocker
	limiter        *rate.Limiter
	libraryService LibraryServiceProvider
}

// NewAPIHandler provides a new instance of APIHandler. A nil config
// disables rate limiting and uses the default attachment size limit.
func NewAPIHandler(logger *zap.Logger, config *Config, stats *Statistics, clock Clocker, ls LibraryServiceProvider) *APIHandler {
	m := &Maintenance{}
	m.enabled.Store(false)
	stats.status = make(map[int]uint64)
	stats.mu = &sync.RWMutex{}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if config != nil && config.Server.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.Server.RateLimit), config.Server.RateBurst)
	}
	return &APIHandler{
		logger:         logger,
		config:         config,
		stats:          stats,
		mode:           m,
		clock:          clock,
		limiter:        limiter,
		libraryService: ls,
	}
}

func (api *APIHandler) maxAttachmentSize() int64 {
	if api.config == nil || api.config.Library.MaxAttachmentSize <= 0 {
		return 20 << 20
	}
	return api.config.Library.MaxAttachmentSize
}

// sendError writes an error envelope and logs a failure to send it.
func (api *APIHandler) sendError(w http.ResponseWriter, r *http.Request, status int, message string, data interface{}) {
	logger := api.GetLoggerFromContext(r.Context())
	errResp := NewAPIError(GetValueFromContext(r.Context(), RequestIDContextKey), status, message, data)
	if err := WriteErrorResponse(r.Context(), w, errResp); err != nil {
		logger.Error("failed to send error response", zap.Error(err))
	}
}

// sendResponse writes a success envelope and logs a failure to send it.
func (api *APIHandler) sendResponse(w http.ResponseWriter, r *http.Request, status int, message string, total *int, data interface{}) {
	logger := api.GetLoggerFromContext(r.Context())
	resp := GenericResponse(GetValueFromContext(r.Context(), RequestIDContextKey), status, message, total, data)
	if err := WriteResponse(r.Context(), w, resp); err != nil {
		logger.Error("failed to send response", zap.Error(err))
	}
}

// sendLibraryError answers with the status matching err. A quota
// failure carries the storage usage and the remediation choices.
func (api *APIHandler) sendLibraryError(w http.ResponseWriter, r *http.Request, err error, message string) {
	logger := api.GetLoggerFromContext(r.Context())
	status := StatusForError(err)
	logger.Error(message, zap.Int("response.status", status), zap.Error(err))

	var data interface{} = err.Error()
	if errors.Is(err, ErrQuotaExceeded) {
		report := QuotaReport{
			Reason:      err.Error(),
			Remediation: []string{RemediationRemoveAttachments, RemediationDeleteBooks, RemediationClearAll},
		}
		if usage, uerr := api.libraryService.StorageUsage(r.Context()); uerr == nil {
			report.Usage = &usage
		} else {
			logger.Warn("failed to compute storage usage", zap.Error(uerr))
		}
		data = report
	}
	api.sendError(w, r, status, message, data)
}

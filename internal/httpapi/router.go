// Package httpapi implements the HTTP API component: document, folder,
// share-link, and execution endpoints, plus health. Every route but
// health requires a bearer token (spec §4.8).
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lattice-editor/server/internal/auth"
	"github.com/lattice-editor/server/internal/documents"
	"github.com/lattice-editor/server/internal/queue"
	"github.com/lattice-editor/server/internal/ratelimiter"
	"github.com/lattice-editor/server/internal/updatelog"
	"github.com/lattice-editor/server/internal/users"
	"go.uber.org/zap"
)

var (
	errMissingVerifier  = errors.New("httpapi: auth verifier is required")
	errMissingUsers     = errors.New("httpapi: users service is required")
	errMissingDocuments = errors.New("httpapi: documents service is required")
	errMissingUpdateLog = errors.New("httpapi: update log service is required")
	errMissingQueue     = errors.New("httpapi: execution queue is required")
	errMissingLimiter   = errors.New("httpapi: rate limiter is required")
)

const executeBucket = "execute"

// Config describes every dependency the HTTP API needs. It never reaches
// for a global: everything arrives through this struct.
type Config struct {
	Verifier           auth.Verifier
	Users              *users.Service
	Documents          *documents.Service
	UpdateLog          *updatelog.Service
	Queue              *queue.Queue
	Limiter            ratelimiter.Limiter
	SupportedLanguages []string
	CodeMaxBytes       int
	AllowedOrigins     []string
	Logger             *zap.Logger
	StartedAt          time.Time
	SandboxAvailable   func() bool
}

const defaultCodeMaxBytes = 100_000

// Handler holds the validated dependencies and exposes http.Handler via
// the embedded gin engine built in NewHandler.
type Handler struct {
	verifier  auth.Verifier
	users     *users.Service
	documents *documents.Service
	updateLog *updatelog.Service
	queue     *queue.Queue
	limiter   ratelimiter.Limiter
	languages map[string]struct{}
	codeMax   int
	logger    *zap.Logger
	startedAt time.Time
	sandboxUp func() bool
}

// NewHandler validates dependencies and builds the gin engine.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Verifier == nil {
		return nil, errMissingVerifier
	}
	if cfg.Users == nil {
		return nil, errMissingUsers
	}
	if cfg.Documents == nil {
		return nil, errMissingDocuments
	}
	if cfg.UpdateLog == nil {
		return nil, errMissingUpdateLog
	}
	if cfg.Queue == nil {
		return nil, errMissingQueue
	}
	if cfg.Limiter == nil {
		return nil, errMissingLimiter
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	codeMax := cfg.CodeMaxBytes
	if codeMax <= 0 {
		codeMax = defaultCodeMaxBytes
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	sandboxUp := cfg.SandboxAvailable
	if sandboxUp == nil {
		sandboxUp = func() bool { return true }
	}

	languages := make(map[string]struct{}, len(cfg.SupportedLanguages))
	for _, lang := range cfg.SupportedLanguages {
		languages[lang] = struct{}{}
	}

	h := &Handler{
		verifier:  cfg.Verifier,
		users:     cfg.Users,
		documents: cfg.Documents,
		updateLog: cfg.UpdateLog,
		queue:     cfg.Queue,
		limiter:   cfg.Limiter,
		languages: languages,
		codeMax:   codeMax,
		logger:    logger,
		startedAt: startedAt,
		sandboxUp: sandboxUp,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: allowedOriginsOrWildcard(cfg.AllowedOrigins),
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/health", h.handleHealth)

	protected := router.Group("/api")
	protected.Use(h.authorizeRequest)
	protected.GET("/documents", h.handleListDocuments)
	protected.POST("/documents", h.handleCreateDocument)
	protected.POST("/documents/:id/share-link", h.handleShareLink)
	protected.GET("/folders", h.handleListFolders)
	protected.POST("/folders", h.handleCreateFolder)
	protected.POST("/documents/:id/folders/:folder_id", h.handleAssignDocumentToFolder)
	protected.POST("/execute", h.handleExecute)
	protected.GET("/execute/:job_id", h.handleExecuteResult)

	return router, nil
}

func allowedOriginsOrWildcard(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// Package httpapi exposes the index, selection and assembly operations over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/ctxserve/internal/assemble"
	"github.com/temirov/ctxserve/internal/cache"
	"github.com/temirov/ctxserve/internal/ignore"
	"github.com/temirov/ctxserve/internal/index"
	"github.com/temirov/ctxserve/internal/metrics"
	"github.com/temirov/ctxserve/internal/tokenizer"
)

const (
	defaultListenAddress    = "127.0.0.1:0"
	defaultShutdownDuration = 5 * time.Second
	defaultMaxRequestBytes  = 8 << 20
	readHeaderTimeout       = 10 * time.Second

	headerContentType  = "Content-Type"
	headerSnapshotID   = "X-Snapshot-Id"
	headerTokenCount   = "X-Token-Count"
	headerTokenModel   = "X-Token-Model"
	headerBundleDigest = "X-Bundle-Digest"
	headerSkippedFiles = "X-Skipped-Files"
	mimeTypeJSON       = "application/json"
	mimeTypeText       = "text/plain; charset=utf-8"

	projectStructurePath = "/api/project-structure"
	indexStatusPath      = "/api/index-status"
	rebuildIndexPath     = "/api/rebuild-index"
	checkIgnorePath      = "/api/check-ignore"
	processPath          = "/process"
	metricsPath          = "/metrics"
	healthPath           = "/healthz"
	otherPathLabel       = "other"

	queryWait            = "wait"
	queryPath            = "path"
	formSelectedPaths    = "selected_paths"
	errorNoPathsSelected = "no paths selected"
	errorPathRequired    = "query parameter path is required"
)

// IndexStore is the cache surface the server needs.
type IndexStore interface {
	GetOrBuild(ctx context.Context) (*index.Snapshot, error)
	Current() (*index.Snapshot, cache.Status, error)
	ForceRebuild() cache.RebuildResult
	Status() cache.Status
}

// ContentAssembler reads resolved files into documents.
type ContentAssembler interface {
	Assemble(ctx context.Context, rootDirectory string, orderedPaths []string) (assemble.Result, error)
}

// RequestError represents a failure accompanied by an HTTP status code.
type RequestError struct {
	statusCode int
	err        error
}

// Error returns the error string.
func (requestError RequestError) Error() string {
	return requestError.err.Error()
}

// Unwrap exposes the wrapped error.
func (requestError RequestError) Unwrap() error {
	return requestError.err
}

// StatusCode reports the associated HTTP status code.
func (requestError RequestError) StatusCode() int {
	return requestError.statusCode
}

// NewRequestError creates a new RequestError.
func NewRequestError(statusCode int, err error) error {
	if err == nil {
		return nil
	}
	return RequestError{statusCode: statusCode, err: err}
}

// Config defines runtime options for the server.
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
	Gzip            bool
	MaxRequestBytes int64
	// Root is the absolute project root used for ignore diagnostics.
	Root      string
	Ignore    ignore.Options
	Index     IndexStore
	Assembler ContentAssembler
	// TokenCounter is optional; when set, bundle responses carry a token estimate.
	TokenCounter tokenizer.Counter
	TokenModel   string
	Logger       *zap.Logger
}

// Server serves the project index over HTTP.
type Server struct {
	config   Config
	logger   *zap.Logger
	ruleSets *ruleSetCache
}

// NewServer creates a new Server with defaults applied.
func NewServer(config Config) Server {
	normalized := config
	if normalized.Address == "" {
		normalized.Address = defaultListenAddress
	}
	if normalized.ShutdownTimeout <= 0 {
		normalized.ShutdownTimeout = defaultShutdownDuration
	}
	if normalized.MaxRequestBytes <= 0 {
		normalized.MaxRequestBytes = defaultMaxRequestBytes
	}
	if normalized.Logger == nil {
		normalized.Logger = zap.NewNop()
	}
	return Server{config: normalized, logger: normalized.Logger, ruleSets: &ruleSetCache{}}
}

// Handler returns the fully wrapped request handler.
func (server Server) Handler() http.Handler {
	router := http.NewServeMux()
	router.HandleFunc(projectStructurePath, server.handleProjectStructure)
	router.HandleFunc(indexStatusPath, server.handleIndexStatus)
	router.HandleFunc(rebuildIndexPath, server.handleRebuildIndex)
	router.HandleFunc(checkIgnorePath, server.handleCheckIgnore)
	router.HandleFunc(processPath, server.handleProcess)
	router.HandleFunc(healthPath, server.handleHealth)
	router.Handle(metricsPath, metrics.Handler())

	var handler http.Handler = router
	if server.config.Gzip {
		handler = gzhttp.GzipHandler(handler)
	}
	return metrics.Middleware(pathLabel, handler)
}

// Run starts the server and blocks until the provided context is canceled.
// The notify callback receives the bound address once the listener is active.
func (server Server) Run(ctx context.Context, notify func(string)) error {
	listener, listenErr := net.Listen("tcp", server.config.Address)
	if listenErr != nil {
		return fmt.Errorf("listen on %s: %w", server.config.Address, listenErr)
	}
	actualAddress := listener.Addr().String()

	httpServer := &http.Server{Handler: server.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		serveErr := httpServer.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", serveErr)
		}
		return nil
	})

	if notify != nil {
		notify(actualAddress)
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.config.ShutdownTimeout)
		defer cancel()
		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if shutdownErr != nil && !errors.Is(shutdownErr, context.Canceled) && !errors.Is(shutdownErr, http.ErrServerClosed) {
			return fmt.Errorf("shutdown HTTP: %w", shutdownErr)
		}
		return nil
	})

	return group.Wait()
}

func pathLabel(request *http.Request) string {
	switch request.URL.Path {
	case projectStructurePath, indexStatusPath, rebuildIndexPath, checkIgnorePath, processPath, metricsPath, healthPath:
		return request.URL.Path
	default:
		return otherPathLabel
	}
}

func (server Server) writeJSON(writer http.ResponseWriter, statusCode int, payload interface{}) {
	var buffer bytes.Buffer
	if encodeErr := json.NewEncoder(&buffer).Encode(payload); encodeErr != nil {
		writer.Header().Set(headerContentType, mimeTypeJSON)
		writer.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(writer).Encode(map[string]string{"error": fmt.Sprintf("encode response: %v", encodeErr)})
		return
	}
	writer.Header().Set(headerContentType, mimeTypeJSON)
	writer.WriteHeader(statusCode)
	_, _ = writer.Write(buffer.Bytes())
}

func (server Server) writeText(writer http.ResponseWriter, body []byte) {
	writer.Header().Set(headerContentType, mimeTypeText)
	writer.WriteHeader(http.StatusOK)
	_, _ = writer.Write(body)
}

func (server Server) statusCodeFromError(err error) int {
	var requestError RequestError
	if errors.As(err, &requestError) {
		return requestError.StatusCode()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func requestWantsJSON(request *http.Request) bool {
	mediaType, _, parseErr := mime.ParseMediaType(request.Header.Get(headerContentType))
	return parseErr == nil && mediaType == mimeTypeJSON
}

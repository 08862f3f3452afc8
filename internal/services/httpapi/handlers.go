package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/ctxserve/internal/cache"
	"github.com/temirov/ctxserve/internal/ignore"
	"github.com/temirov/ctxserve/internal/index"
	"github.com/temirov/ctxserve/internal/output"
	"github.com/temirov/ctxserve/internal/selection"
	"github.com/temirov/ctxserve/internal/types"
)

// indexStatusResponse is cache.Status with an absent build time encoded as null.
type indexStatusResponse struct {
	State      cache.State `json:"state"`
	IsValid    bool        `json:"is_valid"`
	IsBuilding bool        `json:"is_building"`
	BuiltAt    *time.Time  `json:"built_at"`
	SnapshotID string      `json:"snapshot_id,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
}

func newIndexStatusResponse(status cache.Status) indexStatusResponse {
	response := indexStatusResponse{
		State:      status.State,
		IsValid:    status.IsValid,
		IsBuilding: status.IsBuilding,
		SnapshotID: status.SnapshotID,
		LastError:  status.LastError,
	}
	if !status.BuiltAt.IsZero() {
		builtAt := status.BuiltAt.UTC()
		response.BuiltAt = &builtAt
	}
	return response
}

func (server Server) handleProjectStructure(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if isTruthy(request.URL.Query().Get(queryWait)) {
		snapshot, buildErr := server.config.Index.GetOrBuild(request.Context())
		if buildErr != nil {
			server.writeError(writer, buildErr)
			return
		}
		server.writeSnapshot(writer, snapshot)
		return
	}

	snapshot, status, currentErr := server.config.Index.Current()
	if errors.Is(currentErr, cache.ErrNoSnapshot) {
		message := currentErr.Error()
		if status.LastError != "" {
			message = status.LastError
		}
		server.writeJSON(writer, http.StatusServiceUnavailable, types.ErrorResponse{Error: message, Building: status.IsBuilding})
		return
	}
	if currentErr != nil {
		server.writeError(writer, currentErr)
		return
	}
	server.writeSnapshot(writer, snapshot)
}

func (server Server) writeSnapshot(writer http.ResponseWriter, snapshot *index.Snapshot) {
	writer.Header().Set(headerSnapshotID, snapshot.ID)
	server.writeJSON(writer, http.StatusOK, snapshot.Root)
}

func (server Server) handleIndexStatus(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	server.writeJSON(writer, http.StatusOK, newIndexStatusResponse(server.config.Index.Status()))
}

func (server Server) handleRebuildIndex(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result := server.config.Index.ForceRebuild()
	server.logger.Info("rebuild requested", zap.Bool("accepted", result.Accepted))
	server.writeJSON(writer, http.StatusOK, types.NewRebuildResponse(result.Accepted))
}

func (server Server) handleCheckIgnore(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := request.URL.Query()
	if !query.Has(queryPath) {
		server.writeError(writer, NewRequestError(http.StatusBadRequest, errors.New(errorPathRequired)))
		return
	}
	snapshotID := server.config.Index.Status().SnapshotID
	ruleSet, compileErr := server.ruleSets.get(snapshotID, func() (*ignore.RuleSet, error) {
		server.logger.Debug("compiling ignore rules", zap.String("snapshot", snapshotID))
		return ignore.Compile(server.config.Root, server.config.Ignore)
	})
	if compileErr != nil {
		server.writeError(writer, compileErr)
		return
	}
	explanation := ruleSet.ExplainOnDisk(query.Get(queryPath))
	server.writeJSON(writer, http.StatusOK, types.NewCheckIgnoreResponse(explanation, ruleSet.Sources()))
}

func (server Server) handleProcess(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	request.Body = http.MaxBytesReader(writer, request.Body, server.config.MaxRequestBytes)
	requestedPaths, parseErr := readSelectedPaths(request)
	if parseErr != nil {
		server.writeError(writer, parseErr)
		return
	}
	if len(requestedPaths) == 0 {
		server.writeError(writer, NewRequestError(http.StatusBadRequest, errors.New(errorNoPathsSelected)))
		return
	}

	snapshot, _, currentErr := server.config.Index.Current()
	if errors.Is(currentErr, cache.ErrNoSnapshot) {
		snapshot, currentErr = server.config.Index.GetOrBuild(request.Context())
	}
	if currentErr != nil {
		server.writeError(writer, currentErr)
		return
	}

	resolved := selection.Resolve(snapshot, requestedPaths)
	if len(resolved.Unknown) > 0 {
		server.logger.Debug("dropped unknown paths", zap.Strings("paths", resolved.Unknown))
	}
	result, assembleErr := server.config.Assembler.Assemble(request.Context(), snapshot.RootPath, resolved.Files)
	if assembleErr != nil {
		server.writeError(writer, assembleErr)
		return
	}

	bundle := output.FormatBundle(result.Documents)
	writer.Header().Set(headerSnapshotID, snapshot.ID)
	writer.Header().Set(headerBundleDigest, output.BundleDigest(result.Documents))
	writer.Header().Set(headerSkippedFiles, strconv.Itoa(len(result.Skipped)))
	if server.config.TokenCounter != nil {
		if tokens, countErr := server.config.TokenCounter.CountString(bundle); countErr == nil {
			writer.Header().Set(headerTokenCount, strconv.Itoa(tokens))
			writer.Header().Set(headerTokenModel, server.config.TokenModel)
		} else {
			server.logger.Warn("token count failed", zap.Error(countErr))
		}
	}
	server.writeText(writer, []byte(bundle))
}

func (server Server) handleHealth(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	server.writeJSON(writer, http.StatusOK, types.HealthResponse{Status: types.HealthStatusOK})
}

func (server Server) writeError(writer http.ResponseWriter, err error) {
	statusCode := server.statusCodeFromError(err)
	if statusCode >= http.StatusInternalServerError {
		server.logger.Warn("request failed", zap.Int("status", statusCode), zap.Error(err))
	}
	server.writeJSON(writer, statusCode, types.ErrorResponse{Error: err.Error()})
}

// readSelectedPaths accepts a JSON body {"paths": [...]} or form values named selected_paths.
func readSelectedPaths(request *http.Request) ([]string, error) {
	if requestWantsJSON(request) {
		var payload types.ProcessRequest
		if decodeErr := json.NewDecoder(request.Body).Decode(&payload); decodeErr != nil {
			return nil, NewRequestError(http.StatusBadRequest, fmt.Errorf("decode request body: %w", decodeErr))
		}
		return nonBlank(payload.Paths), nil
	}
	if parseErr := request.ParseForm(); parseErr != nil {
		return nil, NewRequestError(http.StatusBadRequest, fmt.Errorf("parse form: %w", parseErr))
	}
	return nonBlank(request.PostForm[formSelectedPaths]), nil
}

func nonBlank(values []string) []string {
	kept := make([]string, 0, len(values))
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			kept = append(kept, value)
		}
	}
	return kept
}

func isTruthy(value string) bool {
	parsed, parseErr := strconv.ParseBool(value)
	return parseErr == nil && parsed
}

// Package assemble reads selected files with bounded parallelism and returns their contents
// in selection order.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/ctxserve/internal/metrics"
	"github.com/temirov/ctxserve/internal/utils"
)

// SkipReason explains why a selected file was left out of the result.
type SkipReason string

const (
	// SkipTooLarge marks files above the size limit.
	SkipTooLarge SkipReason = "too_large"
	// SkipBinary marks files whose content does not decode as text.
	SkipBinary SkipReason = "binary"
	// SkipReadError marks files that could not be opened or read.
	SkipReadError SkipReason = "read_error"
	// SkipNotRegular marks entries that are no longer regular files.
	SkipNotRegular SkipReason = "not_regular"

	maxDefaultReadWorkers = 32

	errorAssemblyCanceledFormat = "assembly canceled: %w"
	logMessageFileSkipped       = "file skipped"
)

// Document is one included file.
type Document struct {
	Path    string
	Content string
}

// Skip records a file that was omitted.
type Skip struct {
	Path   string
	Reason SkipReason
	Err    error
}

// Result holds included documents in the requested order plus every skipped file.
type Result struct {
	Documents []Document
	Skipped   []Skip
	Bytes     int64
}

// Options configures an Assembler.
type Options struct {
	Workers     int
	MaxFileSize int64
	Logger      *zap.Logger
}

// Assembler turns ordered relative file paths into documents.
type Assembler struct {
	workers     int
	maxFileSize int64
	logger      *zap.Logger
}

// New applies defaults to options.
func New(options Options) *Assembler {
	workers := options.Workers
	if workers <= 0 {
		workers = min(maxDefaultReadWorkers, 4*runtime.NumCPU())
	}
	maxFileSize := options.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = utils.DefaultMaxFileSize
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{workers: workers, maxFileSize: maxFileSize, logger: logger}
}

type readOutcome struct {
	content string
	skip    *Skip
}

// Assemble reads every path below rootDirectory. Per-file failures become Skips; only
// cancellation of ctx returns an error.
func (assembler *Assembler) Assemble(ctx context.Context, rootDirectory string, orderedPaths []string) (Result, error) {
	outcomes := make([]readOutcome, len(orderedPaths))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(assembler.workers)
	for position, relativePath := range orderedPaths {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}
			outcomes[position] = assembler.readOne(rootDirectory, relativePath)
			return nil
		})
	}
	if waitErr := group.Wait(); waitErr != nil {
		return Result{}, fmt.Errorf(errorAssemblyCanceledFormat, waitErr)
	}
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf(errorAssemblyCanceledFormat, ctx.Err())
	}

	var result Result
	skippedByReason := map[string]int{}
	for position, outcome := range outcomes {
		if outcome.skip != nil {
			result.Skipped = append(result.Skipped, *outcome.skip)
			skippedByReason[string(outcome.skip.Reason)]++
			continue
		}
		result.Documents = append(result.Documents, Document{Path: orderedPaths[position], Content: outcome.content})
		result.Bytes += int64(len(outcome.content))
	}
	metrics.RecordAssembly(len(result.Documents), result.Bytes, skippedByReason)
	return result, nil
}

func (assembler *Assembler) readOne(rootDirectory string, relativePath string) readOutcome {
	absolutePath := filepath.Join(rootDirectory, filepath.FromSlash(relativePath))

	info, statErr := os.Stat(absolutePath)
	if statErr != nil {
		return assembler.skipped(relativePath, SkipReadError, statErr)
	}
	if !info.Mode().IsRegular() {
		return assembler.skipped(relativePath, SkipNotRegular, nil)
	}
	if info.Size() > assembler.maxFileSize {
		return assembler.skipped(relativePath, SkipTooLarge, nil)
	}

	file, openErr := os.Open(absolutePath)
	if openErr != nil {
		return assembler.skipped(relativePath, SkipReadError, openErr)
	}
	defer file.Close()

	// The file may grow between stat and read.
	data, readErr := io.ReadAll(io.LimitReader(file, assembler.maxFileSize+1))
	if readErr != nil {
		return assembler.skipped(relativePath, SkipReadError, readErr)
	}
	if int64(len(data)) > assembler.maxFileSize {
		return assembler.skipped(relativePath, SkipTooLarge, nil)
	}
	if utils.IsBinaryPrefix(data) {
		return assembler.skipped(relativePath, SkipBinary, nil)
	}
	return readOutcome{content: string(data)}
}

func (assembler *Assembler) skipped(relativePath string, reason SkipReason, err error) readOutcome {
	fields := []zap.Field{zap.String("path", relativePath), zap.String("reason", string(reason))}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if reason == SkipReadError && !errors.Is(err, os.ErrNotExist) {
		assembler.logger.Warn(logMessageFileSkipped, fields...)
	} else {
		assembler.logger.Debug(logMessageFileSkipped, fields...)
	}
	return readOutcome{skip: &Skip{Path: relativePath, Reason: reason, Err: err}}
}

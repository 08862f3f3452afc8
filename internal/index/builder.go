package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/temirov/ctxserve/internal/ignore"
	"github.com/temirov/ctxserve/internal/utils"
)

const (
	defaultTreeWorkers = 8

	errorRootAbsoluteFormat = "resolve root %s: %w"
	errorRootFormat         = "%w: %s: %v"
	errorRootPlainFormat    = "%w: %s"
	errorBuildCanceled      = "build of %s canceled: %w"
)

var (
	// ErrRootNotFound reports a root directory that does not exist.
	ErrRootNotFound = errors.New("root directory not found")
	// ErrRootUnreadable reports a root directory that cannot be listed.
	ErrRootUnreadable = errors.New("root directory unreadable")
	// ErrRootNotDirectory reports a root path that is not a directory.
	ErrRootNotDirectory = errors.New("root is not a directory")
)

// Options configures a TreeBuilder.
type Options struct {
	Workers int
	Ignore  ignore.Options
	Logger  *zap.Logger
	Now     func() time.Time
	NewID   func() string
}

// TreeBuilder walks a project root into a Snapshot. Sibling directories are scanned
// concurrently, bounded by Options.Workers; a directory's children are final only after all
// of them have been scanned, and directories left without children are dropped.
type TreeBuilder struct {
	options Options
	logger  *zap.Logger
}

// NewTreeBuilder applies defaults to options.
func NewTreeBuilder(options Options) *TreeBuilder {
	normalized := options
	if normalized.Workers <= 0 {
		normalized.Workers = defaultTreeWorkers
	}
	if normalized.Logger == nil {
		normalized.Logger = zap.NewNop()
	}
	if normalized.Ignore.Logger == nil {
		normalized.Ignore.Logger = normalized.Logger
	}
	if normalized.Now == nil {
		normalized.Now = time.Now
	}
	if normalized.NewID == nil {
		normalized.NewID = uuid.NewString
	}
	return &TreeBuilder{options: normalized, logger: normalized.Logger}
}

// Build indexes rootDirectory using rule files discovered during the walk.
func (builder *TreeBuilder) Build(ctx context.Context, rootDirectory string) (*Snapshot, error) {
	absoluteRoot, absErr := filepath.Abs(rootDirectory)
	if absErr != nil {
		return nil, fmt.Errorf(errorRootAbsoluteFormat, rootDirectory, absErr)
	}
	return builder.BuildWithMatcher(ctx, absoluteRoot, ignore.New(absoluteRoot, builder.options.Ignore))
}

// BuildWithMatcher indexes rootDirectory with the given root-scope matcher. Only a missing,
// unreadable or non-directory root fails the build; other entries that cannot be read are
// left out.
func (builder *TreeBuilder) BuildWithMatcher(ctx context.Context, rootDirectory string, matcher *ignore.Matcher) (*Snapshot, error) {
	startedAt := builder.options.Now()
	rootInfo, statErr := os.Stat(rootDirectory)
	if statErr != nil {
		if errors.Is(statErr, fs.ErrNotExist) {
			return nil, fmt.Errorf(errorRootFormat, ErrRootNotFound, rootDirectory, statErr)
		}
		return nil, fmt.Errorf(errorRootFormat, ErrRootUnreadable, rootDirectory, statErr)
	}
	if !rootInfo.IsDir() {
		return nil, fmt.Errorf(errorRootPlainFormat, ErrRootNotDirectory, rootDirectory)
	}
	rootEntries, readErr := os.ReadDir(rootDirectory)
	if readErr != nil {
		return nil, fmt.Errorf(errorRootFormat, ErrRootUnreadable, rootDirectory, readErr)
	}

	walk := &treeWalk{
		root:      rootDirectory,
		logger:    builder.logger,
		semaphore: semaphore.NewWeighted(int64(builder.options.Workers)),
	}
	rootNode := &Node{Name: filepath.Base(rootDirectory), Kind: KindDirectory}
	rootNode.Children = walk.scanEntries(ctx, matcher, "", rootEntries, 0)
	if ctx.Err() != nil {
		return nil, fmt.Errorf(errorBuildCanceled, rootDirectory, ctx.Err())
	}

	finishedAt := builder.options.Now()
	snapshot := NewSnapshot(builder.options.NewID(), rootNode, rootDirectory, finishedAt, finishedAt.Sub(startedAt))
	builder.logger.Debug("index built",
		zap.String("root", rootDirectory),
		zap.Int("files", snapshot.Files),
		zap.Int("directories", snapshot.Directories),
		zap.Duration("duration", snapshot.Duration),
	)
	return snapshot, nil
}

type treeWalk struct {
	root      string
	logger    *zap.Logger
	semaphore *semaphore.Weighted
}

func (walk *treeWalk) scanDirectory(ctx context.Context, matcher *ignore.Matcher, relativeDirectory string, depth int) *Node {
	node := &Node{Name: filepath.Base(filepath.FromSlash(relativeDirectory)), Path: relativeDirectory, Kind: KindDirectory}
	if ctx.Err() != nil {
		return node
	}
	entries, readErr := os.ReadDir(walk.absolute(relativeDirectory))
	if readErr != nil {
		walk.logger.Warn("skipping unreadable directory", zap.String("path", relativeDirectory), zap.Error(readErr))
		return node
	}
	node.Children = walk.scanEntries(ctx, matcher, relativeDirectory, entries, depth)
	return node
}

// scanEntries classifies the entries of one directory. Child directories run on their own
// goroutine while a worker slot is free and inline otherwise, so a full pool never blocks.
func (walk *treeWalk) scanEntries(ctx context.Context, matcher *ignore.Matcher, relativeDirectory string, entries []fs.DirEntry, depth int) []*Node {
	results := make([]*Node, len(entries))
	var pending sync.WaitGroup
	for entryIndex, entry := range entries {
		relativePath := utils.JoinRelativePath(relativeDirectory, entry.Name())
		entryInfo, infoErr := utils.ResolveEntry(walk.absolute(relativePath), entry)
		if infoErr != nil {
			walk.logger.Debug("skipping unreadable entry", zap.String("path", relativePath), zap.Error(infoErr))
			continue
		}

		if entryInfo.IsDirectory {
			if matcher.Check(relativePath, true, -1).Excluded {
				continue
			}
			if depth+1 >= utils.MaxTraversalDepth {
				walk.logger.Warn("skipping directory beyond depth limit", zap.String("path", relativePath))
				continue
			}
			childMatcher := matcher.Enter(relativePath)
			if walk.semaphore.TryAcquire(1) {
				pending.Add(1)
				go func(slot int, childPath string) {
					defer pending.Done()
					defer walk.semaphore.Release(1)
					results[slot] = walk.scanDirectory(ctx, childMatcher, childPath, depth+1)
				}(entryIndex, relativePath)
				continue
			}
			results[entryIndex] = walk.scanDirectory(ctx, childMatcher, relativePath, depth+1)
			continue
		}

		if !entryInfo.IsRegular {
			continue
		}
		decision := matcher.Check(relativePath, false, entryInfo.Size)
		if decision.Excluded {
			if decision.Reason == ignore.ReasonTooLarge {
				walk.logger.Debug("skipping oversized file", zap.String("path", relativePath), zap.Int64("size", entryInfo.Size))
			}
			continue
		}
		results[entryIndex] = &Node{Name: entry.Name(), Path: relativePath, Kind: KindFile}
	}
	pending.Wait()

	children := make([]*Node, 0, len(results))
	for _, child := range results {
		if child == nil {
			continue
		}
		if child.IsDirectory() && len(child.Children) == 0 {
			continue
		}
		children = append(children, child)
	}
	return children
}

func (walk *treeWalk) absolute(relativePath string) string {
	return filepath.Join(walk.root, filepath.FromSlash(relativePath))
}

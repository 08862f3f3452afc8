package utils

import (
	"io/fs"
	"os"
)

// MaxTraversalDepth bounds directory recursion, which also stops symbolic link cycles.
const MaxTraversalDepth = 64

// EntryInfo describes a directory entry after following symbolic links.
type EntryInfo struct {
	IsDirectory bool
	IsRegular   bool
	Size        int64
}

// ResolveEntry classifies a directory entry located at absolutePath. Symbolic links are followed.
func ResolveEntry(absolutePath string, entry fs.DirEntry) (EntryInfo, error) {
	var info fs.FileInfo
	var infoErr error
	if entry.Type()&fs.ModeSymlink != 0 {
		info, infoErr = os.Stat(absolutePath)
	} else {
		info, infoErr = entry.Info()
	}
	if infoErr != nil {
		return EntryInfo{}, infoErr
	}
	return EntryInfo{
		IsDirectory: info.IsDir(),
		IsRegular:   info.Mode().IsRegular(),
		Size:        info.Size(),
	}, nil
}

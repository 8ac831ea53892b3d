package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/mmap-go"

	"github.com/termweb/termweb-go/internal/codec"
	"github.com/termweb/termweb-go/internal/glob"
)

// BuildFileList walks basePath recursively, skipping any relative path
// matched by an exclude pattern, and returns entries in walk order plus
// the summed size of non-directory entries (spec.md §4.8 "File-list
// build").
func BuildFileList(basePath string, excludes []string) (entries []FileEntry, totalBytes uint64, err error) {
	err = filepath.Walk(basePath, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == basePath {
			return nil
		}
		rel, err := filepath.Rel(basePath, path)
		if err != nil {
			return err
		}
		if glob.MatchAny(excludes, rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			entries = append(entries, FileEntry{Path: rel, IsDir: true})
			return nil
		}

		hash, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("transfer: hash %s: %w", rel, err)
		}

		size := uint64(info.Size())
		entries = append(entries, FileEntry{
			Path:  rel,
			Size:  size,
			Mtime: uint64(info.ModTime().Unix()),
			Hash:  hash,
			IsDir: false,
		})
		totalBytes += size
		return nil
	})
	return entries, totalBytes, err
}

// hashFile content-hashes a file in a single mmapped, sequential pass
// (spec.md §4.8, §8 property 10 "hash stability independent of stride or
// mmap chunking").
func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.Size() == 0 {
		return codec.Hash(nil), nil
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer data.Unmap()
	adviseSequential(data)

	return codec.Hash(data), nil
}

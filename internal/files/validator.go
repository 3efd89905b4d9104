package files

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
)

var (
	ErrNoFiles     = errors.New("no files specified")
	ErrNotExist    = errors.New("file does not exist")
	ErrIsDirectory = errors.New("is a directory")
	ErrEmptyFile   = errors.New("file is empty")
	ErrUnreadable  = errors.New("cannot open file")
	ErrDuplicate   = errors.New("another file has the same name")
)

// FileInfo describes a file offered to the peer.
type FileInfo struct {
	// Path is absolute.
	Path string

	// Name is the base name the receiver sees.
	Name string

	Size int64

	// Type is the MIME type guessed from the extension.
	Type string
}

// ValidateFiles checks every path and reports all problems at once. The
// receiver keys files by name, so two paths with the same base name are
// rejected.
func ValidateFiles(paths []string) ([]FileInfo, error) {
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}

	var (
		infos []FileInfo
		errs  []error
		seen  = make(map[string]string, len(paths))
	)
	for _, path := range paths {
		info, err := validateFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if prev, ok := seen[info.Name]; ok {
			errs = append(errs, fmt.Errorf("%s: %w (%s)", path, ErrDuplicate, prev))
			continue
		}
		seen[info.Name] = path
		infos = append(infos, info)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("file validation failed:\n%w", err)
	}
	return infos, nil
}

func validateFile(path string) (FileInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: %w", path, err)
	}

	stat, err := os.Stat(abs)
	switch {
	case os.IsNotExist(err):
		return FileInfo{}, fmt.Errorf("%s: %w", path, ErrNotExist)
	case err != nil:
		return FileInfo{}, fmt.Errorf("%s: %w", path, err)
	case stat.IsDir():
		return FileInfo{}, fmt.Errorf("%s: %w", path, ErrIsDirectory)
	case stat.Size() == 0:
		return FileInfo{}, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}

	f, err := os.Open(abs)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: %w: %w", path, ErrUnreadable, err)
	}
	f.Close()

	mimeType := mime.TypeByExtension(filepath.Ext(abs))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return FileInfo{
		Path: abs,
		Name: filepath.Base(abs),
		Size: stat.Size(),
		Type: mimeType,
	}, nil
}

func GetTotalSize(infos []FileInfo) int64 {
	var total int64
	for _, f := range infos {
		total += f.Size
	}
	return total
}

package files

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateFiles(t *testing.T) {
	dir := t.TempDir()
	note := filepath.Join(dir, "note.txt")
	blob := filepath.Join(dir, "blob.unknownext")
	empty := filepath.Join(dir, "empty.txt")
	os.WriteFile(note, []byte("hi"), 0o644)
	os.WriteFile(blob, []byte{1, 2, 3}, 0o644)
	os.WriteFile(empty, nil, 0o644)

	infos, err := ValidateFiles([]string{note, blob})
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 || infos[0].Name != "note.txt" || infos[0].Size != 2 {
		t.Fatalf("infos = %+v", infos)
	}
	if infos[1].Type != "application/octet-stream" {
		t.Errorf("unknown extension type = %q", infos[1].Type)
	}
	if GetTotalSize(infos) != 5 {
		t.Errorf("GetTotalSize() = %d", GetTotalSize(infos))
	}

	_, err = ValidateFiles([]string{empty, dir, filepath.Join(dir, "missing")})
	for _, want := range []error{ErrEmptyFile, ErrIsDirectory, ErrNotExist} {
		if !errors.Is(err, want) {
			t.Errorf("error %v does not report %v", err, want)
		}
	}
}

func TestValidateFilesRejectsDuplicateNames(t *testing.T) {
	a := filepath.Join(t.TempDir(), "same.txt")
	b := filepath.Join(t.TempDir(), "same.txt")
	os.WriteFile(a, []byte("a"), 0o644)
	os.WriteFile(b, []byte("b"), 0o644)

	if _, err := ValidateFiles([]string{a, b}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("ValidateFiles() error = %v, want ErrDuplicate", err)
	}
	if _, err := ValidateFiles(nil); !errors.Is(err, ErrNoFiles) {
		t.Errorf("ValidateFiles(nil) error = %v", err)
	}
}

package fsutil

import (
	"errors"
	"io/fs"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	if !fsys.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}
	if fsys.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_ReadFile(t *testing.T) {
	data, err := OSFileSystem{}.ReadFile("filesystem.go")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty file content")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	src := []byte("hello, world")
	mfs.WriteFile("/cfg/../test.txt", src)
	src[0] = 'J'

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello, world" {
		t.Errorf("expected stored copy, got %q", data)
	}

	info, err := mfs.Stat("/test.txt")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 12 || info.Name() != "test.txt" || info.IsDir() {
		t.Errorf("unexpected file info: name=%s size=%d dir=%t", info.Name(), info.Size(), info.IsDir())
	}
	if !mfs.Exists("/test.txt") {
		t.Error("expected /test.txt to exist")
	}
}

func TestMemoryFileSystem_Missing(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if _, err := mfs.ReadFile("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile error = %v, want ErrNotExist", err)
	}
	if _, err := mfs.Stat("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat error = %v, want ErrNotExist", err)
	}
	if mfs.Exists("/missing") {
		t.Error("expected /missing to not exist")
	}
}

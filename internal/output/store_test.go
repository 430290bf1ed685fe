package output

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "outputs"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestNewStore(t *testing.T) {
	root := filepath.Join(t.TempDir(), "outputs")
	s, err := NewStore(root)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if s.Root() != root {
		t.Errorf("Root = %s, want %s", s.Root(), root)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root not created: %v", err)
	}

	if _, err := NewStore(""); err == nil {
		t.Error("empty root accepted")
	}
}

func TestEnsureJobDir(t *testing.T) {
	s := newTestStore(t)

	dir, err := s.EnsureJobDir("abc123")
	if err != nil {
		t.Fatalf("EnsureJobDir: %v", err)
	}
	if dir != filepath.Join(s.Root(), "job_abc123") {
		t.Errorf("dir = %s", dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("job dir not created: %v", err)
	}
	if dir != s.JobDir("abc123") {
		t.Error("JobDir and EnsureJobDir disagree")
	}
}

func TestStore_RejectsPathEscapes(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"", "..", ".", "a/b", "../escape"} {
		if _, err := s.EnsureJobDir(id); err == nil {
			t.Errorf("EnsureJobDir(%q) accepted", id)
		}
		if err := s.Remove(id); err == nil {
			t.Errorf("Remove(%q) accepted", id)
		}
	}
	if _, _, err := s.Open("job1", "../../etc/passwd"); err == nil {
		t.Error("Open accepted a traversal filename")
	}
}

func TestOpen(t *testing.T) {
	s := newTestStore(t)
	dir, err := s.EnsureJobDir("j1")
	if err != nil {
		t.Fatalf("EnsureJobDir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "patients.json"), []byte(`[]`), 0o644); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	f, info, err := s.Open("j1", "patients.json")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if info.Size() != 2 {
		t.Errorf("size = %d, want 2", info.Size())
	}
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("content = %q", data)
	}

	if _, _, err := s.Open("j1", "missing.json"); !os.IsNotExist(err) {
		t.Errorf("missing artifact: %v", err)
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(t)
	dir, err := s.EnsureJobDir("j2")
	if err != nil {
		t.Fatalf("EnsureJobDir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "patients.json"), []byte(`[]`), 0o644); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	if err := s.Remove("j2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("directory survived removal")
	}
	// Sweeps retry; a second pass is not an error.
	if err := s.Remove("j2"); err != nil {
		t.Errorf("repeat Remove: %v", err)
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)

	files, err := s.List("nothing")
	if err != nil || files != nil {
		t.Errorf("missing dir: files=%v err=%v", files, err)
	}

	dir, err := s.EnsureJobDir("j3")
	if err != nil {
		t.Fatalf("EnsureJobDir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "patients.json"), []byte(`[]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "patients.csv"), []byte("id\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "scratch"), 0o755); err != nil {
		t.Fatal(err)
	}

	files, err = s.List("j3")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("%d files listed, want 2 (directories skipped)", len(files))
	}
	byName := make(map[string]string, len(files))
	for _, f := range files {
		byName[f.Name] = f.ContentType
		if f.SizeBytes <= 0 {
			t.Errorf("%s: size %d", f.Name, f.SizeBytes)
		}
	}
	if byName["patients.json"] != "application/json" {
		t.Errorf("json content type = %q", byName["patients.json"])
	}
	if byName["patients.csv"] != "text/csv" {
		t.Errorf("csv content type = %q", byName["patients.csv"])
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"patients.json", "application/json"},
		{"patients.csv", "text/csv"},
		{"job_x.zip", "application/zip"},
		{"job_x.zip.enc", "application/octet-stream"},
		{"README", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := ContentTypeFor(tt.name); got != tt.want {
			t.Errorf("ContentTypeFor(%s) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

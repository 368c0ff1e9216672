package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func validManifest() *Manifest {
	return &Manifest{
		Project: ProjectInfo{ID: "proj-1"},
		Snapshot: SnapshotInfo{
			ID:      "snap-1",
			FileURL: "https://example.com/snap-1/file",
			Blocks: []BlockInfo{
				{Hash: "abc123", URL: "https://example.com/blocks/abc123"},
				{Hash: "DEF456", URL: "https://example.com/blocks/def456"},
			},
		},
	}
}

func TestValidate(t *testing.T) {
	if err := validManifest().Validate(); err != nil {
		t.Errorf("valid manifest rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Manifest)
	}{
		{"missing project id", func(m *Manifest) { m.Project.ID = "" }},
		{"missing snapshot id", func(m *Manifest) { m.Snapshot.ID = "" }},
		{"missing file url", func(m *Manifest) { m.Snapshot.FileURL = "" }},
		{"missing block hash", func(m *Manifest) { m.Snapshot.Blocks[0].Hash = "" }},
		{"missing block url", func(m *Manifest) { m.Snapshot.Blocks[1].URL = "" }},
		{"duplicate hash", func(m *Manifest) { m.Snapshot.Blocks[1].Hash = "ABC123" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(m)
			if err := m.Validate(); err == nil {
				t.Error("Validate accepted an invalid manifest")
			}
		})
	}
}

func TestNormalizeHash(t *testing.T) {
	if got := NormalizeHash("abc123def"); got != "ABC123DEF" {
		t.Errorf("NormalizeHash = %q, want ABC123DEF", got)
	}
}

func TestFilename(t *testing.T) {
	if got := validManifest().Filename(); got != "proj-1--snap-1.json" {
		t.Errorf("Filename = %q, want proj-1--snap-1.json", got)
	}
}

func TestWriteReadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	want := validManifest()

	if err := WriteFile(dir, want); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := ReadFile(filepath.Join(dir, want.Filename()))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if got.Project.ID != want.Project.ID {
		t.Errorf("Project.ID = %q, want %q", got.Project.ID, want.Project.ID)
	}
	if got.Snapshot.ID != want.Snapshot.ID {
		t.Errorf("Snapshot.ID = %q, want %q", got.Snapshot.ID, want.Snapshot.ID)
	}
	if len(got.Snapshot.Blocks) != len(want.Snapshot.Blocks) {
		t.Fatalf("got %d blocks, want %d", len(got.Snapshot.Blocks), len(want.Snapshot.Blocks))
	}
	if got.Snapshot.Blocks[0] != want.Snapshot.Blocks[0] {
		t.Errorf("Blocks[0] = %+v, want %+v", got.Snapshot.Blocks[0], want.Snapshot.Blocks[0])
	}
}

func TestWriteFileLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	if err := WriteFile(dir, validManifest()); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("spool has %d entries, want 1", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".json" {
		t.Errorf("leftover file %q in spool", entries[0].Name())
	}
}

func TestReadFileRejectsMalformed(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Error("ReadFile accepted malformed JSON")
	}

	if _, err := ReadFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("ReadFile accepted a missing file")
	}

	incomplete := filepath.Join(dir, "incomplete.json")
	if err := os.WriteFile(incomplete, []byte(`{"project":{"id":""}}`), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := ReadFile(incomplete); err == nil {
		t.Error("ReadFile accepted a manifest that fails validation")
	}
}

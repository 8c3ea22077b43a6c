package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestVersionFromFile(t *testing.T) {
	cases := map[string]int64{
		"001_init.up.sql":       1,
		"012_add_index.up.sql":  12,
		"100_big_change.up.sql": 100,
	}
	for name, want := range cases {
		got, err := versionFromFile(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != want {
			t.Errorf("%s: got %d, want %d", name, got, want)
		}
	}
	if _, err := versionFromFile("init.sql"); err == nil {
		t.Error("expected error for a filename without a version prefix")
	}
}

func TestUpFiles_sortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_b.up.sql", "001_a.up.sql", "001_a.down.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := upFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"001_a.up.sql", "002_b.up.sql"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

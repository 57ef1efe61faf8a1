package scripttest

import (
	"path/filepath"
	"testing"
)

// TestScenarios runs every literal spec §8 scenario script under testdata/
// against a fresh repository.
func TestScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/*.txt")
	if err != nil {
		t.Fatalf("glob testdata: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no scenario scripts found under testdata/")
	}
	for _, f := range files {
		f := f
		t.Run(filepath.Base(f), func(t *testing.T) {
			RunFile(t, f)
		})
	}
}

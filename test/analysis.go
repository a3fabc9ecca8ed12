package test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/mickamy/rockscope/internal/analyzer"
	"github.com/mickamy/rockscope/internal/config"
	"github.com/mickamy/rockscope/internal/model"
)

var (
	rootPath string
	once     sync.Once
)

// RootPath resolves a path relative to the repository rootPath (where go.mod resides).
func RootPath(t *testing.T) string {
	t.Helper()
	once.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			t.Fatalf("getwd: %v", err)
		}
		for {
			if _, err := os.Stat(filepath.Join(wd, "go.mod")); err == nil {
				rootPath = wd
				break
			}
			next := filepath.Dir(wd)
			if next == wd {
				t.Fatalf("go.mod not found from %s", wd)
			}
			wd = next
		}
	})
	return rootPath
}

// LoadSample reads a profile dump from the samples directory.
func LoadSample(t *testing.T, rel string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(RootPath(t), "samples", rel))
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	return string(b)
}

// LoadSampleResult loads and analyzes a sample with the default configuration.
func LoadSampleResult(t *testing.T, rel string) *model.AnalysisResult {
	t.Helper()
	a := analyzer.New(zaptest.NewLogger(t), config.Default())
	result, err := a.Analyze(context.Background(), LoadSample(t, rel))
	if err != nil {
		t.Fatalf("analyze sample: %v", err)
	}
	return result
}

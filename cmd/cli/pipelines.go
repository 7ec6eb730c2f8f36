package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/raffis/importer/internal/filepipeline"
	"github.com/raffis/importer/internal/storage"
	"github.com/raffis/importer/pkg/importer"
)

// loadPipelines compiles the pipelines of the manifest given by --manifest.
// Relative source paths are resolved from the directory of the manifest.
func loadPipelines(ctx context.Context) ([]importer.Pipeline, error) {
	store := storage.New(
		storage.WithReader(os.Stdin),
		storage.WithFile(""),
	)

	list, err := store.Lookup(ctx, rootArgs.manifest)
	if err != nil {
		return nil, err
	}

	baseDir := "."
	if rootArgs.manifest != "-" {
		baseDir = filepath.Dir(rootArgs.manifest)
	}

	celEnv, err := filepipeline.NewCelEnv()
	if err != nil {
		return nil, err
	}

	return filepipeline.NewFromList(list,
		filepipeline.WithLogger(logger),
		filepipeline.WithBaseDir(baseDir),
		filepipeline.WithCelEnv(celEnv),
	)
}

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), name)
	}

	return filepath.Join(home, ".importer", name)
}

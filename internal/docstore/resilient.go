package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

var collectionHashPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// openChromemDB loads a persistent chromem DB. Collections whose metadata
// file is missing are moved to .quarantine so the rest of the store loads.
func openChromemDB(path string, compress bool, logger *zap.Logger) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, err
	}

	corrupt, findErr := findCorruptCollections(path, logger)
	if findErr != nil {
		logger.Error("failed to scan for corrupt collections", zap.Error(findErr))
		return nil, err
	}
	if len(corrupt) == 0 {
		return nil, err
	}

	quarantine := filepath.Join(path, ".quarantine")
	if mkErr := os.MkdirAll(quarantine, 0o700); mkErr != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", mkErr)
	}

	for _, hash := range corrupt {
		src := filepath.Join(path, hash)
		dst := filepath.Join(quarantine, hash)
		if mvErr := os.Rename(src, dst); mvErr != nil {
			QuarantineOperations.WithLabelValues("error").Inc()
			logger.Error("failed to quarantine collection",
				zap.String("collection_hash", hash),
				zap.Error(mvErr),
			)
			continue
		}
		QuarantineOperations.WithLabelValues("success").Inc()
		logger.Warn("quarantined corrupt collection",
			zap.String("collection_hash", hash),
			zap.String("to", dst),
		)
	}

	db, err = chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("loading store after quarantine: %w", err)
	}
	return db, nil
}

// findCorruptCollections lists collection directories that hold document
// files but no metadata file.
func findCorruptCollections(path string, logger *zap.Logger) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var corrupt []string
	for _, entry := range entries {
		if !entry.IsDir() || !collectionHashPattern.MatchString(entry.Name()) {
			continue
		}
		dir := filepath.Join(path, entry.Name())
		if hasMetadata(dir) {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("failed to read collection directory",
				zap.String("collection_hash", entry.Name()),
				zap.Error(err),
			)
			continue
		}
		for _, f := range files {
			if !f.IsDir() && (strings.HasSuffix(f.Name(), ".gob") || strings.HasSuffix(f.Name(), ".gob.gz")) {
				corrupt = append(corrupt, entry.Name())
				break
			}
		}
	}
	return corrupt, nil
}

func hasMetadata(dir string) bool {
	for _, name := range []string{"00000000.gob", "00000000.gob.gz"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

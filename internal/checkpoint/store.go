// Package checkpoint persists the dataset, its backup and the progress cursor
// as JSON files written with a temp-file-then-rename strategy.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// ErrCorrupt reports a persisted file that exists but cannot be decoded.
var ErrCorrupt = errors.New("checkpoint file corrupt")

// Config captures the checkpoint directory and file names.
type Config struct {
	Dir          string `mapstructure:"dir"`
	DatasetFile  string `mapstructure:"dataset_file"`
	BackupFile   string `mapstructure:"backup_file"`
	ProgressFile string `mapstructure:"progress_file"`
}

// Store reads and writes checkpoint files on the local filesystem.
type Store struct {
	datasetPath  string
	backupPath   string
	progressPath string
	logger       *zap.Logger
}

// New validates the checkpoint directory, creating it when missing.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureWritableDir(cfg.Dir); err != nil {
		return nil, err
	}

	names := map[string]*string{
		"dataset_file":  &cfg.DatasetFile,
		"backup_file":   &cfg.BackupFile,
		"progress_file": &cfg.ProgressFile,
	}
	for key, name := range names {
		if strings.TrimSpace(*name) == "" {
			return nil, fmt.Errorf("checkpoint.%s is required", key)
		}
		if filepath.Base(*name) != *name {
			return nil, fmt.Errorf("checkpoint.%s must be a bare file name, got %q", key, *name)
		}
	}
	if cfg.DatasetFile == cfg.BackupFile || cfg.DatasetFile == cfg.ProgressFile || cfg.BackupFile == cfg.ProgressFile {
		return nil, fmt.Errorf("checkpoint file names must be distinct")
	}

	return &Store{
		datasetPath:  filepath.Join(cfg.Dir, cfg.DatasetFile),
		backupPath:   filepath.Join(cfg.Dir, cfg.BackupFile),
		progressPath: filepath.Join(cfg.Dir, cfg.ProgressFile),
		logger:       logger.Named("checkpoint"),
	}, nil
}

func ensureWritableDir(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("create checkpoint directory: %w", mkErr)
		}
	case err != nil:
		return fmt.Errorf("stat checkpoint directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("checkpoint path %q is not a directory", dir)
	}

	testFile := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("checkpoint directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("clean up test file: %w", err)
	}
	return nil
}

// DatasetPath returns the primary dataset file path.
func (s *Store) DatasetPath() string {
	return s.datasetPath
}

// Load returns the persisted dataset and progress. The primary dataset is
// preferred; a missing or corrupt primary falls back to the backup. With
// neither present the dataset is empty. A missing progress file yields
// crawler.DefaultProgress.
func (s *Store) Load() (*crawler.Dataset, crawler.Progress, error) {
	dataset, err := s.loadDataset()
	if err != nil {
		return nil, crawler.Progress{}, err
	}
	progress, _, err := s.LoadProgress()
	if err != nil {
		return nil, crawler.Progress{}, err
	}
	return dataset, progress, nil
}

func (s *Store) loadDataset() (*crawler.Dataset, error) {
	primary, primaryErr := readDataset(s.datasetPath)
	if primaryErr == nil {
		s.logger.Info("dataset loaded", zap.String("path", s.datasetPath), zap.Int("records", primary.Len()))
		return primary, nil
	}
	primaryMissing := errors.Is(primaryErr, os.ErrNotExist)
	if !primaryMissing && !errors.Is(primaryErr, ErrCorrupt) {
		return nil, primaryErr
	}
	if !primaryMissing {
		s.logger.Warn("primary dataset unreadable, trying backup",
			zap.String("path", s.datasetPath),
			zap.Error(primaryErr),
		)
	}

	backup, backupErr := readDataset(s.backupPath)
	switch {
	case backupErr == nil:
		s.logger.Warn("dataset restored from backup",
			zap.String("path", s.backupPath),
			zap.Int("records", backup.Len()),
		)
		return backup, nil
	case errors.Is(backupErr, os.ErrNotExist) && primaryMissing:
		s.logger.Info("no dataset found, starting empty", zap.String("path", s.datasetPath))
		return crawler.NewDataset(), nil
	case errors.Is(backupErr, os.ErrNotExist):
		// Starting empty here would overwrite the corrupt primary on the next save.
		return nil, fmt.Errorf("load dataset: %w", primaryErr)
	default:
		return nil, fmt.Errorf("load dataset: primary: %v; backup: %w", primaryErr, backupErr)
	}
}

func readDataset(path string) (*crawler.Dataset, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is built from validated config.
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	dataset := crawler.NewDataset()
	if err := json.Unmarshal(data, dataset); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return dataset, nil
}

// LoadProgress reads the progress file. The boolean reports whether the file
// existed.
func (s *Store) LoadProgress() (crawler.Progress, bool, error) {
	data, err := os.ReadFile(s.progressPath)
	if errors.Is(err, os.ErrNotExist) {
		return crawler.DefaultProgress(), false, nil
	}
	if err != nil {
		return crawler.Progress{}, false, fmt.Errorf("read progress: %w", err)
	}
	var progress crawler.Progress
	if err := json.Unmarshal(data, &progress); err != nil {
		return crawler.Progress{}, true, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.progressPath, err)
	}
	if progress.Page < 1 {
		progress.Page = 1
	}
	if progress.ItemsCollected < 0 {
		progress.ItemsCollected = 0
	}
	return progress, true, nil
}

// Save rewrites the primary dataset file, or the backup when backup is true.
func (s *Store) Save(dataset *crawler.Dataset, backup bool) error {
	if dataset == nil {
		return fmt.Errorf("dataset is required")
	}
	path := s.datasetPath
	if backup {
		path = s.backupPath
	}
	data, err := json.MarshalIndent(dataset, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}
	return nil
}

// SaveProgress rewrites the progress file.
func (s *Store) SaveProgress(progress crawler.Progress) error {
	data, err := json.MarshalIndent(progress, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := writeAtomic(s.progressPath, data); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// Checkpoint writes the primary dataset, then the backup, then progress.
// Progress is never written unless both dataset copies succeeded.
func (s *Store) Checkpoint(dataset *crawler.Dataset, progress crawler.Progress) error {
	if err := s.Save(dataset, false); err != nil {
		return err
	}
	if err := s.Save(dataset, true); err != nil {
		return err
	}
	return s.SaveProgress(progress)
}

// writeAtomic writes data to a temp file in the target directory, syncs it
// and renames it over path. Readers see either the old or the new content.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

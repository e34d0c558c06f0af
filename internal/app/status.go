package app

import (
	"fmt"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// StatusReport summarizes the persisted crawl state.
type StatusReport struct {
	Progress    crawler.Progress `json:"progress"`
	Persisted   bool             `json:"persisted"`
	DatasetSize int              `json:"datasetSize"`
	MaxID       int              `json:"maxId"`
	DatasetPath string           `json:"datasetPath"`
	// Consistent is false when the progress counter does not match the dataset.
	Consistent bool `json:"consistent"`
}

// Status reads the progress file and the dataset without modifying either.
func (a *App) Status() (StatusReport, error) {
	progress, found, err := a.store.LoadProgress()
	if err != nil {
		return StatusReport{}, fmt.Errorf("load progress: %w", err)
	}
	dataset, _, err := a.store.Load()
	if err != nil {
		return StatusReport{}, fmt.Errorf("load dataset: %w", err)
	}
	return StatusReport{
		Progress:    progress,
		Persisted:   found,
		DatasetSize: dataset.Len(),
		MaxID:       dataset.MaxID(),
		DatasetPath: a.store.DatasetPath(),
		Consistent:  progress.ItemsCollected == dataset.Len(),
	}, nil
}

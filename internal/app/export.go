package app

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/export"
)

// ExportOptions override the configured destinations for one export.
type ExportOptions struct {
	CSVPath     string
	PostgresDSN string
	GCSBucket   string
	GCSObject   string
}

// ExportResult reports what an export wrote.
type ExportResult struct {
	Rows        int
	CSVPath     string
	PostgresRow int
	GCSURI      string
}

// Export flattens the persisted dataset and writes it to every configured sink.
func (a *App) Export(ctx context.Context, opts ExportOptions) (ExportResult, error) {
	cfg := a.cfg.Export
	if opts.CSVPath != "" {
		cfg.CSVPath = opts.CSVPath
	}
	if opts.PostgresDSN != "" {
		cfg.PostgresDSN = opts.PostgresDSN
	}
	if opts.GCSBucket != "" {
		cfg.GCSBucket = opts.GCSBucket
	}
	if opts.GCSObject != "" {
		cfg.GCSObject = opts.GCSObject
	}
	if cfg.CSVPath == "" && cfg.GCSBucket != "" {
		return ExportResult{}, fmt.Errorf("gcs upload requires a csv path")
	}

	dataset, _, err := a.store.Load()
	if err != nil {
		return ExportResult{}, fmt.Errorf("load dataset: %w", err)
	}
	rows := export.Rows(dataset)
	res := ExportResult{Rows: len(rows)}

	if cfg.CSVPath != "" {
		if err := export.WriteCSVFile(cfg.CSVPath, rows); err != nil {
			return res, err
		}
		res.CSVPath = cfg.CSVPath
		a.logger.Info("csv export written", zap.String("path", cfg.CSVPath), zap.Int("rows", len(rows)))
	}

	if cfg.PostgresDSN != "" {
		sink, err := export.NewPostgresSink(ctx, export.PostgresConfig{DSN: cfg.PostgresDSN, Table: cfg.PostgresTable})
		if err != nil {
			return res, err
		}
		defer sink.Close()
		if err := sink.EnsureTable(ctx); err != nil {
			return res, err
		}
		if res.PostgresRow, err = sink.Write(ctx, rows); err != nil {
			return res, err
		}
		a.logger.Info("postgres export written", zap.Int("rows", res.PostgresRow))
	}

	if cfg.GCSBucket != "" {
		uri, err := a.uploadCSV(ctx, cfg.CSVPath, cfg.GCSBucket, cfg.GCSObject)
		if err != nil {
			return res, err
		}
		res.GCSURI = uri
		a.logger.Info("csv export uploaded", zap.String("uri", uri))
	}
	return res, nil
}

func (a *App) uploadCSV(ctx context.Context, path, bucket, object string) (string, error) {
	client, err := a.gcs(ctx)
	if err != nil {
		return "", fmt.Errorf("create storage client: %w", err)
	}
	defer func() { _ = client.Close() }()
	uploader, err := export.NewGCSUploader(client, bucket)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open csv export: %w", err)
	}
	defer func() { _ = f.Close() }()
	return uploader.Upload(ctx, object, "text/csv", f)
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-harvester/internal/app"
)

func newExportCmd() *cobra.Command {
	var opts app.ExportOptions
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the dataset in tabular form for the training pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Export(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows\n", res.Rows)
			if res.CSVPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "csv: %s\n", res.CSVPath)
			}
			if res.PostgresRow > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "postgres: %d rows upserted\n", res.PostgresRow)
			}
			if res.GCSURI != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "gcs: %s\n", res.GCSURI)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.CSVPath, "csv", "", "csv output path (default: export.csv_path)")
	cmd.Flags().StringVar(&opts.PostgresDSN, "postgres-dsn", "", "also upsert rows into Postgres")
	cmd.Flags().StringVar(&opts.GCSBucket, "gcs-bucket", "", "also upload the csv to this bucket")
	cmd.Flags().StringVar(&opts.GCSObject, "gcs-object", "", "object name for the uploaded csv")
	return cmd
}

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
	"github.com/BerkeleyLibrary/willa/internal/infrastructure/archive"
)

func newIngestDirCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "ingest-dir [storage-dir]",
		Short: "Index every record in the transcript storage directory",
		Long: `Indexes each <id>/ directory under the storage directory as one document.
All PDF and text transcripts in a directory are joined in file name order.
Citation metadata comes from <id>/<id>.xml when present and from the catalog
otherwise. The storage directory defaults to ingest.storage_dir.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := a.svc(ctx)
			if err != nil {
				return err
			}
			if s.Ingestor == nil {
				return errors.New("ingestor not configured")
			}
			root := s.StorageDir
			if len(args) == 1 {
				root = args[0]
			}
			if root == "" {
				return errors.New("no storage directory given and ingest.storage_dir is not set")
			}

			records, err := archive.Scan(root)
			if err != nil {
				return err
			}

			var indexed, skipped, failed int
			for _, rec := range records {
				if err := ctx.Err(); err != nil {
					return err
				}
				if len(rec.Transcripts) == 0 {
					cmd.Printf("%s: no transcripts, skipped\n", rec.ID)
					skipped++
					continue
				}

				content, err := rec.Content(ctx, s.Extractor)
				if err != nil {
					cmd.Printf("%s: failed: %v\n", rec.ID, err)
					failed++
					continue
				}

				var opts []ingest.IngestOption
				if force {
					opts = append(opts, ingest.WithForce())
				}
				if opt, ok := localMetadata(cmd, s, rec); ok {
					opts = append(opts, opt)
				}

				res, err := s.Ingestor.Ingest(ctx, rec.ID, content, opts...)
				if err != nil {
					cmd.Printf("%s: failed: %v\n", rec.ID, err)
					failed++
					continue
				}
				if res.Skipped {
					cmd.Printf("%s: unchanged, skipped\n", rec.ID)
					skipped++
					continue
				}
				cmd.Printf("%s: indexed %d chunks from %d file(s)\n", rec.ID, res.ChunksWritten, len(rec.Transcripts))
				indexed++
			}

			cmd.Printf("%d indexed, %d skipped, %d failed\n", indexed, skipped, failed)
			if failed > 0 {
				return fmt.Errorf("%d of %d records failed", failed, len(records))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-index even when the content is unchanged")
	return cmd
}

// localMetadata parses the record's MARCXML export. A missing or unreadable
// export leaves metadata to the catalog.
func localMetadata(cmd *cobra.Command, s *Services, rec archive.Record) (ingest.IngestOption, bool) {
	if s.Catalog == nil {
		return nil, false
	}
	b, err := rec.MARC()
	if err == nil && b == nil {
		return nil, false
	}
	if err == nil {
		md, perr := s.Catalog.ParseRecord(rec.ID, b)
		if perr == nil {
			return ingest.WithMetadata(md), true
		}
		err = perr
	}
	cmd.PrintErrf("%s: ignoring local catalog record: %v\n", rec.ID, err)
	return nil, false
}

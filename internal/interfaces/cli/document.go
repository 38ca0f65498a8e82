package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
)

func newIngestCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "ingest <document-id> <file>",
		Short: "Index a transcript file",
		Long: `Normalizes, chunks and embeds a transcript, replacing any chunks already
stored for the document. Use "-" as the file to read standard input.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			s, err := a.svc(ctx)
			if err != nil {
				return err
			}
			if s.Ingestor == nil {
				return errors.New("ingestor not configured")
			}

			var opts []ingest.IngestOption
			if force {
				opts = append(opts, ingest.WithForce())
			}
			res, err := s.Ingestor.Ingest(ctx, args[0], content, opts...)
			if err != nil {
				return fmt.Errorf("ingest failed: %w", err)
			}

			switch {
			case res.Skipped:
				cmd.Printf("%s unchanged, skipped\n", res.DocumentID)
			case res.Replaced:
				cmd.Printf("%s replaced: %d chunks\n", res.DocumentID, res.ChunksWritten)
			default:
				cmd.Printf("%s indexed: %d chunks\n", res.DocumentID, res.ChunksWritten)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-index even when the content is unchanged")
	return cmd
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Remove a document from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := a.svc(ctx)
			if err != nil {
				return err
			}
			if s.Ingestor == nil {
				return errors.New("ingestor not configured")
			}
			existed, err := s.Ingestor.Delete(ctx, args[0])
			if err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			if !existed {
				cmd.Printf("%s was not indexed\n", args[0])
				return nil
			}
			cmd.Printf("%s deleted\n", args[0])
			return nil
		},
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return b, nil
}

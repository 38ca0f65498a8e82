package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BerkeleyLibrary/willa/internal/application/citation"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

func newFetchCommand(a *app) *cobra.Command {
	var (
		tindID string
		raw    bool
	)
	cmd := &cobra.Command{
		Use:   "fetch -t <tind-id>",
		Short: "Look up a catalog record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tindID = strings.TrimSpace(tindID)
			if tindID == "" {
				return errors.New("a TIND id is required (-t)")
			}
			ctx := commandContext(cmd)
			s, err := a.svc(ctx)
			if err != nil {
				return err
			}
			if s.Catalog == nil {
				return errors.New("catalog not configured")
			}

			if raw {
				b, err := s.Catalog.FetchRaw(ctx, tindID)
				if err != nil {
					return fmt.Errorf("fetch failed: %w", err)
				}
				cmd.Println(string(b))
				return nil
			}

			md, err := s.Catalog.Resolve(ctx, tindID)
			if err != nil {
				return fmt.Errorf("fetch failed: %w", err)
			}
			cmd.Printf("Document: %s\n", md.DocumentID)
			for _, c := range md.Contributors {
				cmd.Printf("  %s (%s)\n", c.Name, c.Role)
			}
			cmd.Println()
			cmd.Println(citation.FormatEntries([]entity.CitationEntry{entity.NewCitationEntry(md)}))
			return nil
		},
	}
	cmd.Flags().StringVarP(&tindID, "tind-id", "t", "", "TIND record id")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the MARC XML record")
	return cmd
}

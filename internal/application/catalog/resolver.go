// Package catalog resolves archive record identifiers to citation metadata.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

var (
	// ErrNotFound means the catalog has no record for the identifier.
	ErrNotFound = errors.New("catalog record not found")
	// ErrMetadataUnavailable covers every other failure to obtain usable metadata.
	ErrMetadataUnavailable = errors.New("catalog metadata unavailable")
)

// Resolver looks up catalog metadata. Implementations return an error wrapping
// ErrNotFound or ErrMetadataUnavailable and never return empty metadata.
type Resolver interface {
	Resolve(ctx context.Context, documentID string) (*entity.Metadata, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, documentID string) (*entity.Metadata, error)

func (f ResolverFunc) Resolve(ctx context.Context, documentID string) (*entity.Metadata, error) {
	return f(ctx, documentID)
}

// Validate checks that md can be rendered as a citation.
func Validate(md *entity.Metadata) error {
	if md == nil {
		return fmt.Errorf("%w: nil metadata", ErrMetadataUnavailable)
	}
	if strings.TrimSpace(md.DocumentID) == "" {
		return fmt.Errorf("%w: missing document id", ErrMetadataUnavailable)
	}
	if strings.TrimSpace(md.Title) == "" {
		return fmt.Errorf("%w: record %s has no title", ErrMetadataUnavailable, md.DocumentID)
	}
	if strings.TrimSpace(md.CatalogLink) == "" {
		return fmt.Errorf("%w: record %s has no catalog link", ErrMetadataUnavailable, md.DocumentID)
	}
	for _, c := range md.Contributors {
		if strings.TrimSpace(c.Name) == "" || !c.Role.Valid() {
			return fmt.Errorf("%w: record %s has an invalid contributor", ErrMetadataUnavailable, md.DocumentID)
		}
	}
	return nil
}

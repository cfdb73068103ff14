package repository

import (
	"context"
	"time"

	searchmodels "github.com/shift6/quotewatch/tools/web_search/models"
)

// DocumentRepository stores cached feed documents between refreshes so a
// restart (or a dead primary channel) still has something to search.
type DocumentRepository interface {
	SaveDocuments(ctx context.Context, domain string, docs []searchmodels.Document, ttl time.Duration) error
	GetAllDocuments(ctx context.Context) ([]searchmodels.Document, error)
}

package save

import (
	"context"

	"sentimentengine/internal/model"
)

// ArticleStore performs the hash-keyed update_or_create. Implementations
// must treat a concurrent insert on the same hash as success, not an error
// the caller needs to see (the teacher's store layer does the analogous
// thing for candle upserts via INSERT OR REPLACE).
type ArticleStore interface {
	UpsertArticle(ctx context.Context, a model.Article) error
}

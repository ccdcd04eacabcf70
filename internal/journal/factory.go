package journal

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed store when configured, otherwise an
// in-memory ring that only survives the process.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(0), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

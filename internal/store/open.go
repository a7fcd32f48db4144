package store

import (
	"context"
	"fmt"

	"github.com/nhle/mailwatch/internal/model"
)

// Open returns the dedup store selected by cfg.Backend.
func Open(ctx context.Context, cfg model.StateConfig) (DedupStore, error) {
	switch cfg.Backend {
	case "", "sqlite":
		s, err := NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "dynamodb":
		s, err := NewDynamoStore(ctx, cfg.AWSRegion, cfg.DynamoDBTable)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

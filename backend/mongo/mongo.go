// Package mongo implements the store on MongoDB. Templates and records are
// kept as their full JSON documents plus a handful of scalar fields the list
// queries filter on, mirroring the SQL stores.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/recordflow/recordflow/backend"
)

const (
	templatesColl      = "templates"
	recordsColl        = "records"
	countersColl       = "counters"
	counterConfigsColl = "counter_configs"
)

type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	options backend.Options
}

var _ backend.Store = (*Store)(nil)

// NewStore connects and ensures the unique code indexes exist.
func NewStore(uri, database string, opts ...backend.BackendOption) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(
		ctx,
		options.Client().ApplyURI(uri),
		options.Client().SetAppName("recordflow"),
		options.Client().SetConnectTimeout(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	s := &Store{
		client:  client,
		db:      client.Database(database),
		options: backend.ApplyOptions(opts...),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	for _, coll := range []string{templatesColl, recordsColl} {
		_, err := s.db.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    map[string]any{"tenant_id": 1, "code": 1},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return fmt.Errorf("creating %s code index: %w", coll, err)
		}
	}

	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) now() time.Time {
	return s.options.Clock.Now().UTC()
}

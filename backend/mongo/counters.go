package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
)

type counterDoc struct {
	TenantID  string    `bson:"tenant_id"`
	Kind      string    `bson:"kind"`
	Year      int       `bson:"year"`
	Month     int       `bson:"month"`
	Value     int64     `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func counterFilter(key core.CounterKey) bson.M {
	return bson.M{
		"tenant_id": key.TenantID,
		"kind":      key.Kind,
		"year":      key.Year,
		"month":     key.Month,
	}
}

// IncrementCounter is an atomic upserting $inc; concurrent callers always
// observe distinct values.
func (s *Store) IncrementCounter(ctx context.Context, key core.CounterKey) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc counterDoc
	err := s.db.Collection(countersColl).FindOneAndUpdate(
		ctx,
		counterFilter(key),
		bson.M{
			"$inc": bson.M{"value": 1},
			"$set": bson.M{"updated_at": s.now()},
		},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("incrementing counter: %w", err)
	}

	return doc.Value, nil
}

func (s *Store) GetCounter(ctx context.Context, key core.CounterKey) (int64, error) {
	var doc counterDoc

	err := s.db.Collection(countersColl).FindOne(ctx, counterFilter(key)).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, backend.ErrCounterNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying counter: %w", err)
	}

	return doc.Value, nil
}

func (s *Store) ListCounters(ctx context.Context, tenantID string) ([]core.CounterInfo, error) {
	opts := options.Find().SetSort(bson.D{{Key: "kind", Value: 1}, {Key: "year", Value: 1}, {Key: "month", Value: 1}})

	cursor, err := s.db.Collection(countersColl).Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, fmt.Errorf("querying counters: %w", err)
	}
	defer cursor.Close(ctx)

	var infos []core.CounterInfo
	for cursor.Next(ctx) {
		var doc counterDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding counter: %w", err)
		}

		infos = append(infos, core.CounterInfo{
			Key: core.CounterKey{
				TenantID: doc.TenantID,
				Kind:     doc.Kind,
				Year:     doc.Year,
				Month:    doc.Month,
			},
			Value:     doc.Value,
			UpdatedAt: doc.UpdatedAt,
		})
	}

	return infos, cursor.Err()
}

func (s *Store) ResetCounters(ctx context.Context, tenantID string, kinds []string) (int64, error) {
	if len(kinds) == 0 {
		return 0, nil
	}

	res, err := s.db.Collection(countersColl).DeleteMany(
		ctx,
		bson.M{"tenant_id": tenantID, "kind": bson.M{"$in": kinds}},
	)
	if err != nil {
		return 0, fmt.Errorf("resetting counters: %w", err)
	}

	return res.DeletedCount, nil
}

func (s *Store) SaveCounterConfig(ctx context.Context, tenantID string, cfg core.CounterConfig) error {
	config, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling counter config: %w", err)
	}

	_, err = s.db.Collection(counterConfigsColl).UpdateOne(
		ctx,
		bson.M{"tenant_id": tenantID, "kind": cfg.Kind},
		bson.M{"$set": bson.M{
			"config":     string(config),
			"updated_at": s.now(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("saving counter config: %w", err)
	}

	return nil
}

func (s *Store) GetCounterConfig(ctx context.Context, tenantID, kind string) (core.CounterConfig, error) {
	var doc struct {
		Config string `bson:"config"`
	}

	err := s.db.Collection(counterConfigsColl).FindOne(
		ctx,
		bson.M{"tenant_id": tenantID, "kind": kind},
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return core.CounterConfig{}, backend.ErrCounterNotFound
	}
	if err != nil {
		return core.CounterConfig{}, fmt.Errorf("querying counter config: %w", err)
	}

	var cfg core.CounterConfig
	if err := json.Unmarshal([]byte(doc.Config), &cfg); err != nil {
		return core.CounterConfig{}, fmt.Errorf("unmarshaling counter config: %w", err)
	}
	return cfg, nil
}

func (s *Store) ListCounterConfigs(ctx context.Context, tenantID string) ([]core.CounterConfig, error) {
	opts := options.Find().SetSort(bson.D{{Key: "kind", Value: 1}})

	cursor, err := s.db.Collection(counterConfigsColl).Find(ctx, bson.M{"tenant_id": tenantID}, opts)
	if err != nil {
		return nil, fmt.Errorf("querying counter configs: %w", err)
	}
	defer cursor.Close(ctx)

	var configs []core.CounterConfig
	for cursor.Next(ctx) {
		var doc struct {
			Config string `bson:"config"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding counter config: %w", err)
		}

		var cfg core.CounterConfig
		if err := json.Unmarshal([]byte(doc.Config), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling counter config: %w", err)
		}
		configs = append(configs, cfg)
	}

	return configs, cursor.Err()
}

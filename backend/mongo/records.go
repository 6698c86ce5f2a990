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

type recordDoc struct {
	ID           string     `bson:"_id"`
	TenantID     string     `bson:"tenant_id"`
	Code         string     `bson:"code"`
	TemplateID   string     `bson:"template_id"`
	StateID      string     `bson:"state_id"`
	PrimaryOwner string     `bson:"primary_owner"`
	Priority     string     `bson:"priority"`
	DueDate      *time.Time `bson:"due_date,omitempty"`
	CompletedAt  *time.Time `bson:"completed_at,omitempty"`
	Deleted      bool       `bson:"deleted"`
	Version      int64      `bson:"version"`
	CreatedAt    time.Time  `bson:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at"`
	Document     string     `bson:"document"`
}

func newRecordDoc(r *core.Record) (*recordDoc, error) {
	document, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling record: %w", err)
	}

	return &recordDoc{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Code:         r.Code,
		TemplateID:   r.TemplateID,
		StateID:      r.CurrentState.StateID,
		PrimaryOwner: r.PrimaryOwner,
		Priority:     string(r.Priority),
		DueDate:      r.DueDate,
		CompletedAt:  r.CompletedAt,
		Deleted:      r.Deleted,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		Document:     string(document),
	}, nil
}

func (d *recordDoc) record() (*core.Record, error) {
	var r core.Record
	if err := json.Unmarshal([]byte(d.Document), &r); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	return &r, nil
}

func (s *Store) CreateRecord(ctx context.Context, r *core.Record) error {
	doc, err := newRecordDoc(r)
	if err != nil {
		return err
	}

	if _, err := s.db.Collection(recordsColl).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return backend.ErrCodeExists
		}
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, tenantID, recordID string) (*core.Record, error) {
	var doc recordDoc

	err := s.db.Collection(recordsColl).FindOne(
		ctx,
		bson.M{"_id": recordID, "tenant_id": tenantID},
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, backend.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying record: %w", err)
	}

	return doc.record()
}

var recordSortFields = map[string]string{
	"":           "created_at",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"due_date":   "due_date",
	"code":       "code",
	"priority":   "priority",
}

func (s *Store) ListRecords(ctx context.Context, tenantID string, filter backend.RecordFilter) ([]*core.Record, int64, error) {
	query := bson.M{"tenant_id": tenantID}

	if !filter.IncludeArchived {
		query["deleted"] = false
	}
	if filter.TemplateID != "" {
		query["template_id"] = filter.TemplateID
	}
	if filter.StateID != "" {
		query["state_id"] = filter.StateID
	}
	if filter.Owner != "" {
		query["primary_owner"] = filter.Owner
	}
	if filter.Priority != "" {
		query["priority"] = string(filter.Priority)
	}
	if filter.Overdue != nil {
		if *filter.Overdue {
			query["due_date"] = bson.M{"$ne": nil, "$lt": s.now()}
			query["completed_at"] = nil
		} else {
			query["$or"] = bson.A{
				bson.M{"due_date": nil},
				bson.M{"due_date": bson.M{"$gte": s.now()}},
				bson.M{"completed_at": bson.M{"$ne": nil}},
			}
		}
	}
	if filter.Search != "" {
		pattern := primitiveRegex(filter.Search)
		query["$or"] = bson.A{
			bson.M{"code": pattern},
			bson.M{"document": pattern},
		}
	}
	if filter.CreatedFrom != nil || filter.CreatedTo != nil {
		created := bson.M{}
		if filter.CreatedFrom != nil {
			created["$gte"] = filter.CreatedFrom.UTC()
		}
		if filter.CreatedTo != nil {
			created["$lte"] = filter.CreatedTo.UTC()
		}
		query["created_at"] = created
	}

	field, ok := recordSortFields[filter.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported sort field %q", filter.SortBy)
	}
	direction := -1
	if filter.SortDirection == backend.SortAsc {
		direction = 1
	}

	coll := s.db.Collection(recordsColl)

	total, err := coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("counting records: %w", err)
	}

	page := filter.Page.Normalize()
	opts := options.Find().
		SetSort(bson.D{{Key: field, Value: direction}}).
		SetSkip(int64(filter.Page.Offset())).
		SetLimit(int64(page.Limit))

	cursor, err := coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("querying records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*core.Record
	for cursor.Next(ctx) {
		var doc recordDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("decoding record: %w", err)
		}

		r, err := doc.record()
		if err != nil {
			return nil, 0, err
		}
		records = append(records, r)
	}

	return records, total, cursor.Err()
}

func (s *Store) UpdateRecord(ctx context.Context, r *core.Record) error {
	doc, err := newRecordDoc(r)
	if err != nil {
		return err
	}

	res, err := s.db.Collection(recordsColl).UpdateOne(
		ctx,
		bson.M{"_id": r.ID, "tenant_id": r.TenantID, "version": r.Version - 1},
		bson.M{"$set": bson.M{
			"state_id":      doc.StateID,
			"primary_owner": doc.PrimaryOwner,
			"priority":      doc.Priority,
			"due_date":      doc.DueDate,
			"completed_at":  doc.CompletedAt,
			"deleted":       doc.Deleted,
			"version":       doc.Version,
			"updated_at":    doc.UpdatedAt,
			"document":      doc.Document,
		}},
	)
	if err != nil {
		return fmt.Errorf("updating record: %w", err)
	}

	if res.MatchedCount == 0 {
		if _, err := s.GetRecord(ctx, r.TenantID, r.ID); err != nil {
			return err
		}
		return backend.ErrVersionConflict
	}
	return nil
}

func (s *Store) CountRecords(ctx context.Context, tenantID, templateID, stateID string) (int64, error) {
	query := bson.M{"tenant_id": tenantID, "template_id": templateID, "deleted": false}
	if stateID != "" {
		query["state_id"] = stateID
	}

	count, err := s.db.Collection(recordsColl).CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return count, nil
}

package mongo

import (
	"context"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
)

// templateDoc carries the scalar fields list queries filter on; the full
// template lives in Document and is the read-side source of truth except for
// InstanceCount, which is kept column-authoritative so usage bumps do not
// race document writes.
type templateDoc struct {
	ID            string `bson:"_id"`
	TenantID      string `bson:"tenant_id"`
	Code          string `bson:"code"`
	Name          string `bson:"name"`
	Category      string `bson:"category"`
	Module        string `bson:"module"`
	Active        bool   `bson:"active"`
	Deleted       bool   `bson:"deleted"`
	Version       int64  `bson:"version"`
	InstanceCount int64  `bson:"instance_count"`
	CreatedAt     int64  `bson:"created_at"`
	Document      string `bson:"document"`
}

func newTemplateDoc(t *core.Template) (*templateDoc, error) {
	document, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshaling template: %w", err)
	}

	return &templateDoc{
		ID:            t.ID,
		TenantID:      t.TenantID,
		Code:          t.Code,
		Name:          t.Name,
		Category:      t.Category,
		Module:        t.Module,
		Active:        t.Active,
		Deleted:       t.Deleted,
		Version:       t.Audit.Version,
		InstanceCount: t.Stats.InstanceCount,
		CreatedAt:     t.Audit.CreatedAt.UnixNano(),
		Document:      string(document),
	}, nil
}

func (d *templateDoc) template() (*core.Template, error) {
	var t core.Template
	if err := json.Unmarshal([]byte(d.Document), &t); err != nil {
		return nil, fmt.Errorf("unmarshaling template: %w", err)
	}
	t.Stats.InstanceCount = d.InstanceCount
	return &t, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t *core.Template) error {
	doc, err := newTemplateDoc(t)
	if err != nil {
		return err
	}

	if _, err := s.db.Collection(templatesColl).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return backend.ErrCodeExists
		}
		return fmt.Errorf("inserting template: %w", err)
	}
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, tenantID, templateID string) (*core.Template, error) {
	var doc templateDoc

	err := s.db.Collection(templatesColl).FindOne(
		ctx,
		bson.M{"_id": templateID, "tenant_id": tenantID},
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, backend.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying template: %w", err)
	}

	return doc.template()
}

func (s *Store) ListTemplates(ctx context.Context, tenantID string, filter backend.TemplateFilter) ([]*core.Template, int64, error) {
	query := bson.M{"tenant_id": tenantID}

	if !filter.IncludeDeleted {
		query["deleted"] = false
	}
	if filter.Active != nil {
		query["active"] = *filter.Active
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.Module != "" {
		query["module"] = filter.Module
	}
	if filter.Search != "" {
		pattern := primitiveRegex(filter.Search)
		query["$or"] = bson.A{
			bson.M{"name": pattern},
			bson.M{"code": pattern},
			bson.M{"document": pattern},
		}
	}

	coll := s.db.Collection(templatesColl)

	total, err := coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("counting templates: %w", err)
	}

	page := filter.Page.Normalize()
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(filter.Page.Offset())).
		SetLimit(int64(page.Limit))

	cursor, err := coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("querying templates: %w", err)
	}
	defer cursor.Close(ctx)

	var templates []*core.Template
	for cursor.Next(ctx) {
		var doc templateDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, fmt.Errorf("decoding template: %w", err)
		}

		t, err := doc.template()
		if err != nil {
			return nil, 0, err
		}
		templates = append(templates, t)
	}

	return templates, total, cursor.Err()
}

func (s *Store) UpdateTemplate(ctx context.Context, t *core.Template) error {
	doc, err := newTemplateDoc(t)
	if err != nil {
		return err
	}

	res, err := s.db.Collection(templatesColl).UpdateOne(
		ctx,
		bson.M{"_id": t.ID, "tenant_id": t.TenantID, "version": t.Audit.Version - 1},
		bson.M{"$set": bson.M{
			"code":     doc.Code,
			"name":     doc.Name,
			"category": doc.Category,
			"module":   doc.Module,
			"active":   doc.Active,
			"deleted":  doc.Deleted,
			"version":  doc.Version,
			"document": doc.Document,
		}},
	)
	if err != nil {
		return fmt.Errorf("updating template: %w", err)
	}

	if res.MatchedCount == 0 {
		if _, err := s.GetTemplate(ctx, t.TenantID, t.ID); err != nil {
			return err
		}
		return backend.ErrVersionConflict
	}
	return nil
}

func (s *Store) TemplateCodeExists(ctx context.Context, tenantID, code string) (bool, error) {
	err := s.db.Collection(templatesColl).FindOne(
		ctx,
		bson.M{"tenant_id": tenantID, "code": code},
		options.FindOne().SetProjection(bson.M{"_id": 1}),
	).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking template code: %w", err)
	}
	return true, nil
}

// IncrementTemplateUsage bumps the scalar count only; the document is
// reconciled on read.
func (s *Store) IncrementTemplateUsage(ctx context.Context, tenantID, templateID string) error {
	res, err := s.db.Collection(templatesColl).UpdateOne(
		ctx,
		bson.M{"_id": templateID, "tenant_id": tenantID},
		bson.M{"$inc": bson.M{"instance_count": 1}},
	)
	if err != nil {
		return fmt.Errorf("incrementing template usage: %w", err)
	}
	if res.MatchedCount == 0 {
		return backend.ErrTemplateNotFound
	}
	return nil
}

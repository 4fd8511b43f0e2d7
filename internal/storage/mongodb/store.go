// Package mongodb implements storage interfaces using MongoDB
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/albeach/DIVE-V3-sub010/internal/storage"
	"github.com/albeach/DIVE-V3-sub010/pkg/clearance"
	"github.com/albeach/DIVE-V3-sub010/pkg/coi"
	"github.com/albeach/DIVE-V3-sub010/pkg/label"
	"github.com/albeach/DIVE-V3-sub010/pkg/release"
)

// Store implements storage.Store using MongoDB
type Store struct {
	client *mongo.Client
	db     *mongo.Database

	// Collections
	labels    *mongo.Collection
	keyAccess *mongo.Collection
	audit     *mongo.Collection
}

// Config holds MongoDB connection settings
type Config struct {
	URI      string
	Database string
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)

	s := &Store{
		client:    client,
		db:        db,
		labels:    db.Collection("security_labels"),
		keyAccess: db.Collection("key_access_objects"),
		audit:     db.Collection("audit_records"),
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.keyAccess.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "resource_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating key access indexes: %w", err)
	}

	_, err = s.audit.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "resource_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating audit indexes: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// labelDocument is the persisted shape of a security label. The in-memory
// type has no bson tags because its serialization contract is the canonical
// CBOR form, so it is mapped explicitly here.
type labelDocument struct {
	ResourceID     string    `bson:"_id"`
	Classification int       `bson:"classification"`
	ReleasableTo   []string  `bson:"releasable_to,omitempty"`
	COIIDs         []string  `bson:"coi_ids,omitempty"`
	COIOperator    string    `bson:"coi_operator,omitempty"`
	OriginCountry  string    `bson:"origin_country"`
	CreatedAt      time.Time `bson:"created_at"`
	Signature      []byte    `bson:"signature,omitempty"`
}

func toLabelDocument(l *label.SecurityLabel) *labelDocument {
	return &labelDocument{
		ResourceID:     l.ResourceID,
		Classification: int(l.Classification),
		ReleasableTo:   l.ReleasableTo,
		COIIDs:         l.COIRequirement.IDs,
		COIOperator:    string(l.COIRequirement.Operator),
		OriginCountry:  l.OriginCountry,
		CreatedAt:      l.CreatedAt,
		Signature:      l.Signature,
	}
}

func (d *labelDocument) toLabel() *label.SecurityLabel {
	return &label.SecurityLabel{
		ResourceID:     d.ResourceID,
		Classification: clearance.ClearanceLevel(d.Classification),
		ReleasableTo:   d.ReleasableTo,
		COIRequirement: coi.Requirement{
			IDs:      d.COIIDs,
			Operator: coi.Operator(d.COIOperator),
		},
		OriginCountry: d.OriginCountry,
		CreatedAt:     d.CreatedAt,
		Signature:     d.Signature,
	}
}

// PutSecurityLabel stores a label, replacing any label for the same resource
func (s *Store) PutSecurityLabel(ctx context.Context, l *label.SecurityLabel) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("storing label: %w", err)
	}

	_, err := s.labels.ReplaceOne(ctx,
		bson.M{"_id": l.ResourceID},
		toLabelDocument(l),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("storing label for %s: %w", l.ResourceID, err)
	}
	return nil
}

// SecurityLabel retrieves the label for a resource
func (s *Store) SecurityLabel(ctx context.Context, resourceID string) (*label.SecurityLabel, error) {
	var doc labelDocument
	err := s.labels.FindOne(ctx, bson.M{"_id": resourceID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: label for %s", storage.ErrNotFound, resourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading label for %s: %w", resourceID, err)
	}
	return doc.toLabel(), nil
}

// DeleteSecurityLabel removes the label for a resource
func (s *Store) DeleteSecurityLabel(ctx context.Context, resourceID string) error {
	res, err := s.labels.DeleteOne(ctx, bson.M{"_id": resourceID})
	if err != nil {
		return fmt.Errorf("deleting label for %s: %w", resourceID, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: label for %s", storage.ErrNotFound, resourceID)
	}
	return nil
}

// PutKeyAccessObject stores a key-access object
func (s *Store) PutKeyAccessObject(ctx context.Context, kao *release.KeyAccessObject) error {
	_, err := s.keyAccess.ReplaceOne(ctx,
		bson.M{"_id": kao.ID},
		kao,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("storing key access object %s: %w", kao.ID, err)
	}
	return nil
}

// KeyAccessObject retrieves a key-access object by id
func (s *Store) KeyAccessObject(ctx context.Context, id string) (*release.KeyAccessObject, error) {
	var kao release.KeyAccessObject
	err := s.keyAccess.FindOne(ctx, bson.M{"_id": id}).Decode(&kao)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: key access object %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading key access object %s: %w", id, err)
	}
	return &kao, nil
}

// KeyAccessObjectsForResource lists the key-access objects bound to a resource
func (s *Store) KeyAccessObjectsForResource(ctx context.Context, resourceID string) ([]*release.KeyAccessObject, error) {
	cursor, err := s.keyAccess.Find(ctx, bson.M{"resource_id": resourceID})
	if err != nil {
		return nil, fmt.Errorf("listing key access objects for %s: %w", resourceID, err)
	}
	defer cursor.Close(ctx)

	var kaos []*release.KeyAccessObject
	if err := cursor.All(ctx, &kaos); err != nil {
		return nil, fmt.Errorf("decoding key access objects for %s: %w", resourceID, err)
	}
	return kaos, nil
}

// AppendAuditRecord stores an audit record
func (s *Store) AppendAuditRecord(ctx context.Context, rec *storage.AuditRecord) error {
	_, err := s.audit.InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("appending audit record: %w", err)
	}
	return nil
}

// AuditRecordsForResource lists records for a resource, newest first
func (s *Store) AuditRecordsForResource(ctx context.Context, resourceID string, limit int) ([]*storage.AuditRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.audit.Find(ctx, bson.M{"resource_id": resourceID}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing audit records for %s: %w", resourceID, err)
	}
	defer cursor.Close(ctx)

	var records []*storage.AuditRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decoding audit records for %s: %w", resourceID, err)
	}
	return records, nil
}

// PurgeAuditRecordsBefore deletes records older than the cutoff
func (s *Store) PurgeAuditRecordsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.audit.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("purging audit records: %w", err)
	}
	return res.DeletedCount, nil
}

// Package mongodb implements storage interfaces using MongoDB
package mongodb

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Andy54411/the-freelancer-marketing-sub034/internal/storage"
	"github.com/Andy54411/the-freelancer-marketing-sub034/pkg/compression"
)

// Store implements storage.Store using MongoDB
type Store struct {
	client     *mongo.Client
	db         *mongo.Database
	gridfs     *gridfs.Bucket
	compressor *compression.Compressor

	// Collections
	logs       *mongo.Collection
	recipients *mongo.Collection
}

// Config holds MongoDB connection settings
type Config struct {
	URI            string
	Database       string
	GridFSBucket   string
	ChunkSizeBytes int32
}

// NewStore creates a new MongoDB store
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)

	// GridFS bucket for archived invoice payloads
	bucketName := cfg.GridFSBucket
	if bucketName == "" {
		bucketName = "invoice_archive"
	}
	chunkSize := cfg.ChunkSizeBytes
	if chunkSize == 0 {
		chunkSize = 261120 // 255KB
	}
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().
		SetName(bucketName).
		SetChunkSizeBytes(chunkSize))
	if err != nil {
		return nil, fmt.Errorf("creating GridFS bucket: %w", err)
	}

	s := &Store{
		client:     client,
		db:         db,
		gridfs:     bucket,
		compressor: compression.NewCompressor(),
		logs:       db.Collection("transmission_logs"),
		recipients: db.Collection("recipient_profiles"),
	}

	if err := s.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	// Transmission log indexes: the dashboard lists per tenant most recent
	// first, the requeuer scans failed active logs per tenant
	_, err := s.logs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "document_id", Value: 1}}},
		{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}, {Key: "archival_status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating transmission log indexes: %w", err)
	}

	_, err = s.recipients.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "company_id", Value: 1}, {Key: "recipient_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("creating recipient indexes: %w", err)
	}

	return nil
}

// Close closes the MongoDB connection
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// TransmissionLogStore implementation

func (s *Store) InsertLog(ctx context.Context, log *storage.TransmissionLog) (string, error) {
	now := time.Now()
	log.CreatedAt = now
	log.UpdatedAt = now
	log.Version = 1
	if log.ID == "" {
		log.ID = primitive.NewObjectID().Hex()
	}

	if _, err := s.logs.InsertOne(ctx, log); err != nil {
		return "", fmt.Errorf("inserting transmission log: %w", err)
	}
	return log.ID, nil
}

func (s *Store) GetLog(ctx context.Context, tenantID, id string) (*storage.TransmissionLog, error) {
	var log storage.TransmissionLog
	err := s.logs.FindOne(ctx, bson.M{"_id": id, "tenant_id": tenantID}).Decode(&log)
	if err == mongo.ErrNoDocuments {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading transmission log: %w", err)
	}
	return &log, nil
}

// UpdateLog replaces the log guarded by its version. The filter also pins
// archival_status to active, so an archived record can never be mutated
// through this path; the two failure modes are told apart afterwards.
func (s *Store) UpdateLog(ctx context.Context, log *storage.TransmissionLog) error {
	currentVersion := log.Version
	log.UpdatedAt = time.Now()
	log.Version = currentVersion + 1

	res, err := s.logs.ReplaceOne(ctx, bson.M{
		"_id":             log.ID,
		"tenant_id":       log.TenantID,
		"version":         currentVersion,
		"archival_status": storage.ArchivalActive,
	}, log)
	if err != nil {
		log.Version = currentVersion
		return fmt.Errorf("updating transmission log: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	log.Version = currentVersion

	// The guarded update matched nothing: find out why
	var existing storage.TransmissionLog
	err = s.logs.FindOne(ctx, bson.M{"_id": log.ID, "tenant_id": log.TenantID}).Decode(&existing)
	if err == mongo.ErrNoDocuments {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inspecting transmission log after failed update: %w", err)
	}
	if existing.ArchivalStatus == storage.ArchivalArchived {
		return storage.ErrLogArchived
	}
	return storage.ErrVersionConflict
}

func (s *Store) ListLogs(ctx context.Context, tenantID string, filter *storage.LogFilter) ([]*storage.TransmissionLog, error) {
	query := bson.M{"tenant_id": tenantID}
	if filter != nil {
		if filter.DocumentID != "" {
			query["document_id"] = filter.DocumentID
		}
		if filter.Status != "" {
			query["status"] = filter.Status
		}
		if filter.Channel != "" {
			query["channel"] = filter.Channel
		}
		if filter.Since != nil {
			query["created_at"] = bson.M{"$gte": *filter.Since}
		}
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter != nil {
		if filter.Limit > 0 {
			opts.SetLimit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			opts.SetSkip(int64(filter.Offset))
		}
	}

	cursor, err := s.logs.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("listing transmission logs: %w", err)
	}
	defer cursor.Close(ctx)

	var logs []*storage.TransmissionLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("decoding transmission logs: %w", err)
	}
	return logs, nil
}

func (s *Store) ListRetryable(ctx context.Context, tenantID string, limit int) ([]*storage.TransmissionLog, error) {
	query := bson.M{
		"tenant_id":       tenantID,
		"status":          storage.StatusFailed,
		"archival_status": storage.ArchivalActive,
		"$expr":           bson.M{"$lt": bson.A{"$retry_count", "$max_retries"}},
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.logs.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("listing retryable logs: %w", err)
	}
	defer cursor.Close(ctx)

	var logs []*storage.TransmissionLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("decoding retryable logs: %w", err)
	}
	return logs, nil
}

func (s *Store) ListTenantsWithActivity(ctx context.Context) ([]string, error) {
	raw, err := s.logs.Distinct(ctx, "tenant_id", bson.M{"archival_status": storage.ArchivalActive})
	if err != nil {
		return nil, fmt.Errorf("listing active tenants: %w", err)
	}

	tenants := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			tenants = append(tenants, id)
		}
	}
	return tenants, nil
}

// RecipientStore implementation

func (s *Store) GetRecipient(ctx context.Context, companyID, recipientID string) (*storage.RecipientProfile, error) {
	var profile storage.RecipientProfile
	err := s.recipients.FindOne(ctx, bson.M{
		"company_id":   companyID,
		"recipient_id": recipientID,
	}).Decode(&profile)
	if err == mongo.ErrNoDocuments {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading recipient profile: %w", err)
	}
	return &profile, nil
}

func (s *Store) SaveRecipient(ctx context.Context, profile *storage.RecipientProfile) error {
	now := time.Now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	if profile.ID == "" {
		profile.ID = primitive.NewObjectID().Hex()
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.recipients.ReplaceOne(ctx, bson.M{
		"company_id":   profile.CompanyID,
		"recipient_id": profile.RecipientID,
	}, profile, opts)
	if err != nil {
		return fmt.Errorf("saving recipient profile: %w", err)
	}
	return nil
}

func (s *Store) ListRecipients(ctx context.Context, companyID string) ([]*storage.RecipientProfile, error) {
	cursor, err := s.recipients.Find(ctx, bson.M{"company_id": companyID})
	if err != nil {
		return nil, fmt.Errorf("listing recipient profiles: %w", err)
	}
	defer cursor.Close(ctx)

	var profiles []*storage.RecipientProfile
	if err := cursor.All(ctx, &profiles); err != nil {
		return nil, fmt.Errorf("decoding recipient profiles: %w", err)
	}
	return profiles, nil
}

// DocumentArchive implementation using GridFS

func (s *Store) StoreDocument(ctx context.Context, tenantID string, doc *storage.ArchivedDocument) (string, error) {
	data := doc.Data
	compressed := false
	if compression.ShouldCompress(doc.ContentType) {
		var err error
		data, err = s.compressor.Compress(data)
		if err != nil {
			return "", fmt.Errorf("compressing archived document: %w", err)
		}
		compressed = true
	}

	filename := fmt.Sprintf("%s/%s", tenantID, doc.DocumentID)
	uploadOpts := options.GridFSUpload().SetMetadata(bson.M{
		"tenant_id":    tenantID,
		"document_id":  doc.DocumentID,
		"content_type": doc.ContentType,
		"compressed":   compressed,
		"stored_at":    time.Now(),
	})

	uploadStream, err := s.gridfs.OpenUploadStream(filename, uploadOpts)
	if err != nil {
		return "", fmt.Errorf("opening archive upload stream: %w", err)
	}
	defer uploadStream.Close()

	if _, err := uploadStream.Write(data); err != nil {
		return "", fmt.Errorf("writing archived document: %w", err)
	}

	return uploadStream.FileID.(primitive.ObjectID).Hex(), nil
}

func (s *Store) GetDocument(ctx context.Context, tenantID, id string) (*storage.ArchivedDocument, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("invalid archive ID: %w", err)
	}

	downloadStream, err := s.gridfs.OpenDownloadStream(objID)
	if err != nil {
		return nil, fmt.Errorf("opening archive download stream: %w", err)
	}
	defer downloadStream.Close()

	file := downloadStream.GetFile()
	metadata := file.Metadata

	// Archive IDs travel through logs and API responses; never hand a
	// document to a tenant other than the one that stored it
	owner, _ := metadata.Lookup("tenant_id").StringValueOK()
	if owner != tenantID {
		return nil, storage.ErrNotFound
	}

	documentID, _ := metadata.Lookup("document_id").StringValueOK()
	contentType, _ := metadata.Lookup("content_type").StringValueOK()
	compressed, _ := metadata.Lookup("compressed").BooleanOK()

	// A file spanning multiple chunks needs more than one Read
	data := make([]byte, file.Length)
	if _, err := io.ReadFull(downloadStream, data); err != nil {
		return nil, fmt.Errorf("reading archived document: %w", err)
	}

	if compressed {
		data, err = s.compressor.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("decompressing archived document: %w", err)
		}
	}

	return &storage.ArchivedDocument{
		ID:          id,
		DocumentID:  documentID,
		ContentType: contentType,
		Data:        data,
		Compressed:  compressed,
	}, nil
}

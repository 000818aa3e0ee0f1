package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/router-for-me/wearsync/internal/health"
	"github.com/router-for-me/wearsync/internal/webhook"
	log "github.com/sirupsen/logrus"
)

const (
	objectStoreRecordPrefix     = "records"
	objectStoreDeadLetterPrefix = "dead-letters"
)

// ObjectStoreConfig captures configuration for the S3-compatible archive.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	UseSSL    bool
	PathStyle bool
}

// ObjectStore archives raw records and dead letters as JSON objects in an
// S3-compatible bucket. Records are keyed by user and record id so a
// redelivered event overwrites its previous object.
type ObjectStore struct {
	client *minio.Client
	cfg    ObjectStoreConfig

	mu          sync.Mutex
	bucketReady bool
}

var (
	_ health.RecordStore     = (*ObjectStore)(nil)
	_ webhook.DeadLetterSink = (*ObjectStore)(nil)
)

// NewObjectStore initializes an object storage backed archive.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store: bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("object store: access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("object store: secret key is required")
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("object store: create client: %w", err)
	}
	return &ObjectStore{client: client, cfg: cfg}, nil
}

// Save writes the record to records/<user>/<id>.json.
func (s *ObjectStore) Save(ctx context.Context, record health.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("object store: marshal record: %w", err)
	}
	return s.putObject(ctx, recordObjectKey(record.UserID, record.ID), data)
}

// LoadRecord fetches a previously archived record.
func (s *ObjectStore) LoadRecord(ctx context.Context, userID, recordID string) (health.Record, bool, error) {
	var record health.Record
	found, err := s.getObject(ctx, recordObjectKey(userID, recordID), &record)
	if err != nil || !found {
		return health.Record{}, false, err
	}
	return record, true, nil
}

// WriteDeadLetter writes the letter to dead-letters/<item>.json.
func (s *ObjectStore) WriteDeadLetter(ctx context.Context, letter webhook.DeadLetter) error {
	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("object store: marshal dead letter: %w", err)
	}
	return s.putObject(ctx, objectStoreDeadLetterPrefix+"/"+objectName(letter.ItemID)+".json", data)
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketReady {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object store: check bucket: %w", err)
	}
	if !exists {
		if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("object store: create bucket: %w", err)
		}
		log.Infof("object store: created bucket %s", s.cfg.Bucket)
	}
	s.bucketReady = true
	return nil
}

func (s *ObjectStore) putObject(ctx context.Context, key string, data []byte) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	fullKey := s.prefixedKey(key)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, fullKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("object store: put object %s: %w", fullKey, err)
	}
	return nil
}

func (s *ObjectStore) getObject(ctx context.Context, key string, dst any) (bool, error) {
	fullKey := s.prefixedKey(key)
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, fullKey, minio.GetObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("object store: get object %s: %w", fullKey, err)
	}
	defer func() {
		if errClose := object.Close(); errClose != nil {
			log.WithError(errClose).Warn("object store: close object")
		}
	}()
	data, err := io.ReadAll(object)
	if err != nil {
		if isObjectNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("object store: read object %s: %w", fullKey, err)
	}
	if err = json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("object store: decode object %s: %w", fullKey, err)
	}
	return true, nil
}

func (s *ObjectStore) prefixedKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.cfg.Prefix == "" {
		return key
	}
	return strings.TrimLeft(s.cfg.Prefix+"/"+key, "/")
}

func recordObjectKey(userID, recordID string) string {
	return objectStoreRecordPrefix + "/" + objectName(userID) + "/" + objectName(recordID) + ".json"
}

// objectName escapes ids so any value stays one path segment.
func objectName(id string) string {
	name := url.PathEscape(strings.TrimSpace(id))
	switch name {
	case "", ".", "..":
		return "_" + name
	}
	return name
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}

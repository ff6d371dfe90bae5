// Package ledger archives settlement records as JSON objects in an
// S3-compatible bucket.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotFound = errors.New("ledger record not found")

const (
	PrefixCompletions = "completions/"
	PrefixEvaluations = "evaluations/"
	PrefixPayments    = "payments/"
	PrefixResolutions = "resolutions/"
)

func CompletionKey(bookingID uuid.UUID) string {
	return PrefixCompletions + bookingID.String()
}

func EvaluationKey(bookingID, evaluationID uuid.UUID) string {
	return PrefixEvaluations + bookingID.String() + "/" + evaluationID.String()
}

func PaymentKey(bookingID, paymentID uuid.UUID) string {
	return PrefixPayments + bookingID.String() + "/" + paymentID.String()
}

func ResolutionKey(bookingID uuid.UUID) string {
	return PrefixResolutions + bookingID.String()
}

// BookingPrefixes returns the key prefixes holding a booking's records, in
// settlement order.
func BookingPrefixes(bookingID uuid.UUID) []string {
	id := bookingID.String()
	return []string{
		PrefixCompletions + id,
		PrefixEvaluations + id + "/",
		PrefixPayments + id + "/",
		PrefixResolutions + id,
	}
}

// BelongsTo reports whether key is one of the booking's records.
func BelongsTo(key string, bookingID uuid.UUID) bool {
	for _, prefix := range BookingPrefixes(bookingID) {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Ledger struct {
	client *minio.Client
	bucket string
}

func New(opts Options) (*Ledger, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Ledger{client: client, bucket: opts.Bucket}, nil
}

func (l *Ledger) Bucket() string {
	return l.bucket
}

// EnsureBucket creates the ledger bucket if it does not exist yet.
func (l *Ledger) EnsureBucket(ctx context.Context) error {
	exists, err := l.client.BucketExists(ctx, l.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", l.bucket, err)
	}
	if exists {
		return nil
	}
	if err := l.client.MakeBucket(ctx, l.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", l.bucket, err)
	}
	return nil
}

// Add writes record as JSON under key. Metadata is stored as object user
// metadata and returned by Query.
func (l *Ledger) Add(ctx context.Context, key string, record any, metadata map[string]string) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal ledger record: %w", err)
	}
	_, err = l.client.PutObject(ctx, l.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("put ledger record %s: %w", key, err)
	}
	return nil
}

// Entry describes one archived record without its body.
type Entry struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"lastModified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Query lists every record whose key starts with prefix.
func (l *Ledger) Query(ctx context.Context, prefix string) ([]Entry, error) {
	var out []Entry
	for obj := range l.client.ListObjects(ctx, l.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list ledger %s: %w", prefix, obj.Err)
		}
		out = append(out, Entry{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			Metadata:     obj.UserMetadata,
		})
	}
	return out, nil
}

// History lists every archived record of a booking.
func (l *Ledger) History(ctx context.Context, bookingID uuid.UUID) ([]Entry, error) {
	var out []Entry
	for _, prefix := range BookingPrefixes(bookingID) {
		entries, err := l.Query(ctx, prefix)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

// Get decodes the record stored under key into v.
func (l *Ledger) Get(ctx context.Context, key string, v any) error {
	obj, err := l.client.GetObject(ctx, l.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get ledger record %s: %w", key, err)
	}
	defer obj.Close()

	if err := json.NewDecoder(obj).Decode(v); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("decode ledger record %s: %w", key, err)
	}
	return nil
}

// Package metadata keeps a manifest of the result files written to object
// storage so downstream readers can list a dataset without scanning it.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ObjectPutter is the part of the S3 client the manifest and the parquet
// sink need.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// DataFile describes one parquet object written for a device batch.
type DataFile struct {
	Path        string            `json:"path"`
	Kind        string            `json:"kind"`
	FileSize    int64             `json:"file_size_in_bytes"`
	RecordCount int64             `json:"record_count"`
	Partition   map[string]string `json:"partition"`
	Timestamp   time.Time         `json:"written_at"`
}

// Snapshot is one manifest version. Every added file creates a snapshot.
type Snapshot struct {
	SnapshotID  int64  `json:"snapshot-id"`
	TimestampMs int64  `json:"timestamp-ms"`
	Manifest    string `json:"manifest"`
}

// DatasetMetadata is the top level document stored next to the data.
type DatasetMetadata struct {
	FormatVersion     int        `json:"format-version"`
	DatasetUUID       string     `json:"dataset-uuid"`
	Name              string     `json:"name"`
	Location          string     `json:"location"`
	CurrentSnapshotID int64      `json:"current-snapshot-id"`
	Snapshots         []Snapshot `json:"snapshots"`
}

// Generator writes manifests to a local directory and, when an uploader is
// set, mirrors them under "<prefix>/_metadata/" in the bucket.
type Generator struct {
	mu          sync.Mutex
	basePath    string
	location    string
	name        string
	datasetUUID string
	snapshots   []Snapshot
	files       []DataFile

	uploader ObjectPutter
	bucket   string
	prefix   string
}

func NewGenerator(basePath, location, name string) *Generator {
	return &Generator{
		basePath:    basePath,
		location:    location,
		name:        name,
		datasetUUID: uuid.NewString(),
	}
}

// WithUploader mirrors every manifest write to bucket under prefix.
func (g *Generator) WithUploader(uploader ObjectPutter, bucket, prefix string) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploader = uploader
	g.bucket = bucket
	g.prefix = prefix
	return g
}

// AddFile records a written object and rewrites the dataset metadata.
func (g *Generator) AddFile(ctx context.Context, df DataFile) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if df.Timestamp.IsZero() {
		df.Timestamp = time.Now().UTC()
	}
	snapID := df.Timestamp.UnixNano()
	for len(g.snapshots) > 0 && snapID <= g.snapshots[len(g.snapshots)-1].SnapshotID {
		snapID = g.snapshots[len(g.snapshots)-1].SnapshotID + 1
	}

	manifestFile := fmt.Sprintf("manifest-%d.json", snapID)
	entry, err := json.Marshal([]DataFile{df})
	if err != nil {
		return err
	}
	if err := g.put(ctx, manifestFile, entry); err != nil {
		return err
	}

	g.files = append(g.files, df)
	g.snapshots = append(g.snapshots, Snapshot{
		SnapshotID:  snapID,
		TimestampMs: df.Timestamp.UnixMilli(),
		Manifest:    manifestFile,
	})
	return g.writeDatasetMetadata(ctx)
}

// Files returns every file recorded so far.
func (g *Generator) Files() []DataFile {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]DataFile, len(g.files))
	copy(out, g.files)
	return out
}

func (g *Generator) writeDatasetMetadata(ctx context.Context) error {
	dm := DatasetMetadata{
		FormatVersion:     1,
		DatasetUUID:       g.datasetUUID,
		Name:              g.name,
		Location:          g.location,
		CurrentSnapshotID: g.snapshots[len(g.snapshots)-1].SnapshotID,
		Snapshots:         g.snapshots,
	}
	b, err := json.MarshalIndent(dm, "", "  ")
	if err != nil {
		return err
	}
	return g.put(ctx, "metadata.json", b)
}

func (g *Generator) put(ctx context.Context, name string, data []byte) error {
	local := filepath.Join(g.basePath, "metadata", name)
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return err
	}
	if g.uploader == nil {
		return nil
	}
	key := path.Join(g.prefix, "_metadata", name)
	if _, err := g.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

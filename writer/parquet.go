package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"fuelflow/config"
	"fuelflow/internal/metadata"
	"fuelflow/logger"
	"fuelflow/models"
)

// SeriesRecord is one smoothed volume reading.
type SeriesRecord struct {
	DeviceID  string  `parquet:"name=device_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Volume    float64 `parquet:"name=volume, type=DOUBLE"`
}

// EventRecord is one detected refuel or drain.
type EventRecord struct {
	DeviceID   string  `parquet:"name=device_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind       string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartTime  int64   `parquet:"name=start_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	EndTime    int64   `parquet:"name=end_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Magnitude  float64 `parquet:"name=magnitude, type=DOUBLE"`
	StartIndex int32   `parquet:"name=start_index, type=INT32"`
	EndIndex   int32   `parquet:"name=end_index, type=INT32"`
	Label      string  `parquet:"name=label, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFileWriter satisfies source.ParquetFile for write-only use.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }

// Seek only reports the current size; the writer never seeks backwards.
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// ParquetSink writes the series and events of a batch as two parquet
// objects partitioned by device and date.
type ParquetSink struct {
	config *config.Config
	client metadata.ObjectPutter
	meta   *metadata.Generator
	log    *logger.Log
}

// NewParquetSink builds the S3 client from the storage section. Static keys
// are used when configured, otherwise the default AWS credential chain.
func NewParquetSink(ctx context.Context, cfg *config.Config) (*ParquetSink, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Storage.S3.AccessKeyID, cfg.Storage.S3.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	metaDir, err := os.MkdirTemp("", "fuelflow-manifest")
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	location := fmt.Sprintf("s3://%s/%s", cfg.Storage.S3.Bucket, cfg.Storage.S3.Prefix)
	gen := metadata.NewGenerator(metaDir, location, cfg.Fuelflow.Name).
		WithUploader(client, cfg.Storage.S3.Bucket, cfg.Storage.S3.Prefix)

	logger.GetLogger().WithComponent("parquet_sink").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("parquet sink initialized")

	return newParquetSink(cfg, client, gen), nil
}

func newParquetSink(cfg *config.Config, client metadata.ObjectPutter, meta *metadata.Generator) *ParquetSink {
	return &ParquetSink{config: cfg, client: client, meta: meta, log: logger.GetLogger()}
}

func (p *ParquetSink) Name() string { return "parquet_sink" }

func (p *ParquetSink) Close() error { return nil }

func (p *ParquetSink) Write(ctx context.Context, batch models.ResultBatch) (int64, error) {
	if len(batch.Series) == 0 {
		return 0, nil
	}

	series := make([]interface{}, len(batch.Series))
	for i, s := range batch.Series {
		series[i] = SeriesRecord{DeviceID: batch.DeviceID, Timestamp: s.Timestamp.UnixMilli(), Volume: s.Value}
	}
	written, err := p.writeObject(ctx, batch, "series", new(SeriesRecord), series)
	if err != nil {
		return written, err
	}

	if len(batch.Events) == 0 {
		return written, nil
	}
	events := make([]interface{}, len(batch.Events))
	for i, e := range batch.Events {
		events[i] = EventRecord{
			DeviceID:   batch.DeviceID,
			Kind:       e.Kind.String(),
			StartTime:  e.StartTime.UnixMilli(),
			EndTime:    e.EndTime.UnixMilli(),
			Magnitude:  e.Magnitude,
			StartIndex: int32(e.StartIndex),
			EndIndex:   int32(e.EndIndex),
			Label:      e.Label(),
		}
	}
	n, err := p.writeObject(ctx, batch, "events", new(EventRecord), events)
	return written + n, err
}

func (p *ParquetSink) writeObject(ctx context.Context, batch models.ResultBatch, kind string, schema interface{}, rows []interface{}) (int64, error) {
	key := ObjectKey(p.config, batch, kind)
	log := p.log.WithComponent("parquet_sink").WithFields(logger.Fields{
		"batch_id": batch.BatchID,
		"s3_key":   key,
		"rows":     len(rows),
	})

	data, err := encodeParquet(schema, rows, p.config.Writer.Formats.Parquet)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", kind, err)
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":     "parquet",
			"compression":      p.config.Writer.Formats.Parquet.Compression,
			"fuelflow-version": p.config.Fuelflow.Version,
		},
	})
	if err != nil {
		log.WithEnv("S3_BUCKET").WithFields(logger.Fields{"bucket": p.config.Storage.S3.Bucket}).WithError(err).Error("failed to upload to S3")
		return 0, fmt.Errorf("failed to upload to S3 bucket %s: %w", p.config.Storage.S3.Bucket, err)
	}
	log.WithFields(logger.Fields{"file_size": len(data)}).Debug("parquet object uploaded")

	if p.meta != nil {
		df := metadata.DataFile{
			Path:        fmt.Sprintf("s3://%s/%s", p.config.Storage.S3.Bucket, key),
			Kind:        kind,
			FileSize:    int64(len(data)),
			RecordCount: int64(len(rows)),
			Partition: map[string]string{
				"device": batch.DeviceID,
				"date":   batch.To.UTC().Format(timeFormat(p.config)),
			},
			Timestamp: batch.ProcessedAt,
		}
		if err := p.meta.AddFile(ctx, df); err != nil {
			log.WithError(err).Warn("failed to update manifest")
		}
	}
	return int64(len(data)), nil
}

func encodeParquet(schema interface{}, rows []interface{}, cfg config.ParquetConfig) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := pqwriter.NewParquetWriter(fw, schema, 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if cfg.PageSize > 0 {
		pw.PageSize = int64(cfg.PageSize)
	}

	switch cfg.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "zstd":
		pw.CompressionType = parquet.CompressionCodec_ZSTD
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

func timeFormat(cfg *config.Config) string {
	if f := cfg.Writer.Partitioning.TimeFormat; f != "" {
		return f
	}
	return "2006-01-02"
}

// ObjectKey lays out "<prefix>/device=<id>/date=<day>/<batch>_<kind>.parquet".
// The "date_device" scheme swaps the two partition levels.
func ObjectKey(cfg *config.Config, batch models.ResultBatch, kind string) string {
	device := "device=" + batch.DeviceID
	date := "date=" + batch.To.UTC().Format(timeFormat(cfg))
	filename := fmt.Sprintf("%s_%s.parquet", batch.BatchID, kind)

	if cfg.Writer.Partitioning.Scheme == "date_device" {
		return path.Join(cfg.Storage.S3.Prefix, date, device, filename)
	}
	return path.Join(cfg.Storage.S3.Prefix, device, date, filename)
}

// Package s3dst implements the s3_object_store Destination Adapter variant
// (spec §4.2). Uploads go through aws-sdk-go-v2's s3 manager (multi-part
// uploader), grounded on the pack's manifests wiring aws-sdk-go-v2 +
// feature/s3/manager; the parquet file format is produced with
// parquet-go/parquet-go (as wired by the matrixone manifest in the pack).
// CSV/JSON use stdlib encoding/csv and encoding/json, matching the pack's
// own connectors (e.g. peerdb's snowflake connector uses stdlib JSON for
// row marshalling) — no retrieved example wires a third-party codec for
// this purpose.
package s3dst

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/parquet-go/parquet-go"

	"github.com/dtaas-io/engine/pkg/destination"
	"github.com/dtaas-io/engine/pkg/rowbatch"
	"github.com/dtaas-io/engine/pkg/storeerr"
)

// Config holds the connection fields for an s3_object_store Connector.
// Endpoint/PathStyle accommodate S3-compatible stores (MinIO, R2, etc.).
type Config struct {
	Region       string
	Bucket       string
	Endpoint     string
	AccessKeyID  string
	SecretKey    string
	UsePathStyle bool
	BasePrefix   string
}

// Destination is the s3_object_store Destination Adapter.
type Destination struct {
	cfg      Config
	client   *s3.Client
	uploader *manager.Uploader
}

func New(cfg Config) *Destination {
	return &Destination{cfg: cfg}
}

func (d *Destination) Connect(ctx context.Context) error {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(d.cfg.Region),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: d.cfg.AccessKeyID, SecretAccessKey: d.cfg.SecretKey}, nil
		})),
	)
	if err != nil {
		return storeerr.New(storeerr.KindConfigInvalid, err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if d.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(d.cfg.Endpoint)
		}
		o.UsePathStyle = d.cfg.UsePathStyle
	})
	d.client = client
	d.uploader = manager.NewUploader(client)
	return nil
}

func (d *Destination) Disconnect(_ context.Context) error {
	d.client = nil
	d.uploader = nil
	return nil
}

func (d *Destination) key(name string) string {
	if d.cfg.BasePrefix == "" {
		return name
	}
	return strings.TrimSuffix(d.cfg.BasePrefix, "/") + "/" + name
}

// TableExists checks for the sidecar _metadata.json that CreateTable always
// writes alongside a logical table's data, since object stores have no
// native table catalog.
func (d *Destination) TableExists(ctx context.Context, name string) (bool, error) {
	_, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(d.key(name) + "/_metadata.json"),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

type sidecarMetadata struct {
	TableName string               `json:"table_name"`
	Schema    []rowbatch.ColumnSpec `json:"schema"`
	CreatedAt time.Time            `json:"created_at"`
}

func (d *Destination) CreateTable(ctx context.Context, name string, columns []rowbatch.ColumnSpec) error {
	meta := sidecarMetadata{TableName: name, Schema: columns, CreatedAt: time.Now().UTC()}
	body, err := json.Marshal(meta)
	if err != nil {
		return storeerr.New(storeerr.KindWriteError, err)
	}
	_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.cfg.Bucket),
		Key:         aws.String(d.key(name) + "/_metadata.json"),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return storeerr.New(storeerr.KindWriteError, err)
	}
	return nil
}

func (d *Destination) SchemaOf(ctx context.Context, name string) ([]rowbatch.ColumnSpec, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.cfg.Bucket),
		Key:    aws.String(d.key(name) + "/_metadata.json"),
	})
	if err != nil {
		return nil, storeerr.New(storeerr.KindNotFound, err)
	}
	defer out.Body.Close()
	var meta sidecarMetadata
	if err := json.NewDecoder(out.Body).Decode(&meta); err != nil {
		return nil, storeerr.New(storeerr.KindWriteError, err)
	}
	return meta.Schema, nil
}

// ApplySchemaDrift rewrites the sidecar metadata with the superset of
// columns; it never removes or retypes an existing entry (spec §8 testable
// property 6). It does not rewrite data already written under the prior
// schema — file-based destinations are append-only by file, not by column.
func (d *Destination) ApplySchemaDrift(ctx context.Context, name string, newColumns []rowbatch.ColumnSpec) error {
	existing, err := d.SchemaOf(ctx, name)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, c := range existing {
		present[c.Name] = true
	}
	merged := existing
	for _, c := range newColumns {
		if !present[c.Name] {
			merged = append(merged, c)
		}
	}
	return d.CreateTable(ctx, name, merged)
}

// Write encodes batch in opts.FileFormat and uploads it to the resolved
// object key (spec §4.2, §6). overwrite mode simply lands at the
// deterministic "data.{ext}" key, so the next overwrite replaces it in
// place; append mode lands at a timestamped key.
func (d *Destination) Write(ctx context.Context, batch *rowbatch.Batch, name string, mode destination.WriteMode, opts destination.WriteOptions) (destination.WriteResult, error) {
	body, contentType, err := encodeBatch(batch, opts.FileFormat)
	if err != nil {
		return destination.WriteResult{}, storeerr.New(storeerr.KindWriteError, err)
	}

	template := opts.PathTemplate
	if template == "" {
		template = name
	}
	objectKey := destination.ResolveObjectKey(template, opts.FileFormat, mode, time.Now())
	fullKey := d.key(objectKey)

	_, err = d.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.cfg.Bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return destination.WriteResult{}, storeerr.New(storeerr.KindWriteError, err)
	}
	return destination.WriteResult{
		RowsWritten:  int64(batch.Len()),
		BytesWritten: int64(len(body)),
		ArtifactID:   fullKey,
	}, nil
}

func encodeBatch(batch *rowbatch.Batch, format string) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case "csv":
		return encodeCSV(batch)
	case "parquet":
		return encodeParquet(batch)
	default:
		return encodeJSONLines(batch)
	}
}

func encodeCSV(batch *rowbatch.Batch) ([]byte, string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(batch.ColumnNames()); err != nil {
		return nil, "", err
	}
	for _, row := range batch.Rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprintf("%v", v)
		}
		if err := w.Write(record); err != nil {
			return nil, "", err
		}
	}
	w.Flush()
	return buf.Bytes(), "text/csv", w.Error()
}

func encodeJSONLines(batch *rowbatch.Batch) ([]byte, string, error) {
	var buf bytes.Buffer
	names := batch.ColumnNames()
	for _, row := range batch.Rows {
		obj := make(map[string]any, len(names))
		for i, n := range names {
			obj[n] = row[i]
		}
		line, err := json.Marshal(obj)
		if err != nil {
			return nil, "", err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), "application/x-ndjson", nil
}

func encodeParquet(batch *rowbatch.Batch) ([]byte, string, error) {
	group := parquet.Group{}
	for _, c := range batch.Columns {
		node := parquetNodeFor(parquetTypeFor(c.Type))
		if c.Nullable {
			node = parquet.Optional(node)
		}
		group[c.Name] = node
	}
	schema := parquet.NewSchema("row", group)

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[map[string]any](&buf, schema)
	names := batch.ColumnNames()
	for _, row := range batch.Rows {
		obj := make(map[string]any, len(names))
		for i, n := range names {
			obj[n] = row[i]
		}
		if _, err := writer.Write([]map[string]any{obj}); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "application/octet-stream", nil
}

func parquetNodeFor(kind string) parquet.Node {
	switch kind {
	case "int32":
		return parquet.Leaf(parquet.Int32Type)
	case "int64":
		return parquet.Leaf(parquet.Int64Type)
	case "float":
		return parquet.Leaf(parquet.FloatType)
	case "double":
		return parquet.Leaf(parquet.DoubleType)
	case "boolean":
		return parquet.Leaf(parquet.BooleanType)
	case "timestamp":
		return parquet.Timestamp(parquet.Millisecond)
	default:
		return parquet.String()
	}
}

// CleanupPartial deletes every object under name's key prefix except the
// _metadata.json sidecar, so a retried write starts clean; objects left by
// earlier runs under that prefix are deleted too. ListObjectsV2 is called
// once, so only the first page of the listing is processed.
func (d *Destination) CleanupPartial(ctx context.Context, name string) error {
	listOut, err := d.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.cfg.Bucket),
		Prefix: aws.String(d.key(name) + "/"),
	})
	if err != nil {
		return storeerr.New(storeerr.KindWriteError, err)
	}
	for _, obj := range listOut.Contents {
		if strings.HasSuffix(*obj.Key, "_metadata.json") {
			continue
		}
		if _, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(d.cfg.Bucket), Key: obj.Key,
		}); err != nil {
			return storeerr.New(storeerr.KindWriteError, err)
		}
	}
	return nil
}

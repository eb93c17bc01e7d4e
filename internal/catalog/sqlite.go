package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
const timeFormat = "2006-01-02T15:04:05.000Z"

// SQLiteCatalog implements the Catalog interface using SQLite as the backing
// database. It is the single-node alternative to the PostgreSQL catalog and
// needs no external database server.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens (or creates) the database at the given path and
// initializes the schema.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	c := &SQLiteCatalog{db: db}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite catalog: %w", err)
	}
	return c, nil
}

// initSchema applies PRAGMAs and creates the tables. Idempotent via IF NOT
// EXISTS, so it runs on every startup.
func (c *SQLiteCatalog) initSchema() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := c.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS s3_item_detail (
			bucket        TEXT NOT NULL,
			key           TEXT NOT NULL,
			metadata      TEXT,
			internal_info TEXT,
			last_modified TEXT NOT NULL,
			md5           TEXT NOT NULL,
			data_location TEXT NOT NULL,

			PRIMARY KEY (bucket, key)
		);

		CREATE TABLE IF NOT EXISTS multipart_upload (
			upload_id     TEXT NOT NULL,
			bucket        TEXT NOT NULL,
			key           TEXT NOT NULL,
			last_modified TEXT NOT NULL,
			metadata      TEXT,
			access_key    TEXT NOT NULL,

			PRIMARY KEY (upload_id, bucket, key)
		);

		CREATE TABLE IF NOT EXISTS multipart_upload_part (
			upload_id     TEXT NOT NULL,
			part_number   INTEGER NOT NULL,
			last_modified TEXT NOT NULL,
			md5           TEXT NOT NULL,
			data_location TEXT NOT NULL,

			PRIMARY KEY (upload_id, part_number)
		);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (c *SQLiteCatalog) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping checks database connectivity.
func (c *SQLiteCatalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// UpsertObject inserts or replaces the row identified by (bucket, key).
func (c *SQLiteCatalog) UpsertObject(ctx context.Context, obj *ObjectDetail) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO s3_item_detail
			(bucket, key, metadata, internal_info, last_modified, md5, data_location)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		obj.Bucket, obj.Key, obj.Metadata, obj.InternalInfo,
		time.Now().UTC().Format(timeFormat), obj.ETag, obj.DataLocation,
	)
	if err != nil {
		return fmt.Errorf("upserting object %q/%q: %w", obj.Bucket, obj.Key, err)
	}
	return nil
}

// GetObject retrieves the row for the exact (bucket, key).
func (c *SQLiteCatalog) GetObject(ctx context.Context, bucket, key string) (*ObjectDetail, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT bucket, key, metadata, internal_info, last_modified, md5, data_location
		 FROM s3_item_detail
		 WHERE bucket = ? AND key = ?`,
		bucket, key,
	)

	obj, err := scanObject(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting object %q/%q: %w", bucket, key, err)
	}
	return obj, nil
}

// ListObjects returns rows in the bucket matching the key prefix, ordered by
// key ascending and capped at MaxListKeys.
func (c *SQLiteCatalog) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectDetail, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT bucket, key, metadata, internal_info, last_modified, md5, data_location
		 FROM s3_item_detail
		 WHERE bucket = ? AND key LIKE ? || '%'
		 ORDER BY key ASC
		 LIMIT ?`,
		bucket, prefix, MaxListKeys,
	)
	if err != nil {
		return nil, fmt.Errorf("listing objects in %q: %w", bucket, err)
	}
	defer rows.Close()

	var objects []ObjectDetail
	for rows.Next() {
		obj, err := scanObject(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning object row: %w", err)
		}
		objects = append(objects, *obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating object rows: %w", err)
	}
	return objects, nil
}

// ListBuckets returns the distinct buckets in the object table.
func (c *SQLiteCatalog) ListBuckets(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT DISTINCT bucket FROM s3_item_detail ORDER BY bucket LIMIT ?`,
		MaxListKeys,
	)
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}
	defer rows.Close()

	var buckets []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scanning bucket row: %w", err)
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bucket rows: %w", err)
	}
	return buckets, nil
}

// InsertMultipartUpload inserts or replaces the upload row by upload_id.
func (c *SQLiteCatalog) InsertMultipartUpload(ctx context.Context, upload *MultipartUpload) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO multipart_upload
			(upload_id, bucket, key, last_modified, metadata, access_key)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		upload.UploadID, upload.Bucket, upload.Key,
		time.Now().UTC().Format(timeFormat), upload.Metadata, upload.AccessKey,
	)
	if err != nil {
		return fmt.Errorf("inserting multipart upload %q: %w", upload.UploadID, err)
	}
	return nil
}

// GetMultipartUpload retrieves the upload row by upload_id.
func (c *SQLiteCatalog) GetMultipartUpload(ctx context.Context, uploadID string) (*MultipartUpload, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT upload_id, bucket, key, last_modified, metadata, access_key
		 FROM multipart_upload
		 WHERE upload_id = ?`,
		uploadID,
	)

	var u MultipartUpload
	var lastModified string
	var metadata sql.NullString
	err := row.Scan(&u.UploadID, &u.Bucket, &u.Key, &lastModified, &metadata, &u.AccessKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting multipart upload %q: %w", uploadID, err)
	}
	u.LastModified, _ = time.Parse(timeFormat, lastModified)
	u.Metadata = metadata.String
	return &u, nil
}

// DeleteMultipartUpload removes the upload row and its parts.
func (c *SQLiteCatalog) DeleteMultipartUpload(ctx context.Context, uploadID string) error {
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM multipart_upload_part WHERE upload_id = ?`, uploadID,
	); err != nil {
		return fmt.Errorf("deleting parts for upload %q: %w", uploadID, err)
	}
	if _, err := c.db.ExecContext(ctx,
		`DELETE FROM multipart_upload WHERE upload_id = ?`, uploadID,
	); err != nil {
		return fmt.Errorf("deleting multipart upload %q: %w", uploadID, err)
	}
	return nil
}

// GetAccessKey projects the access_key column of the upload row.
func (c *SQLiteCatalog) GetAccessKey(ctx context.Context, uploadID string) (*string, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT access_key FROM multipart_upload WHERE upload_id = ?`,
		uploadID,
	)

	var ak string
	err := row.Scan(&ak)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting access key for upload %q: %w", uploadID, err)
	}
	return &ak, nil
}

// UpsertPart inserts or replaces the part row by (upload_id, part_number).
func (c *SQLiteCatalog) UpsertPart(ctx context.Context, part *MultipartPart) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO multipart_upload_part
			(upload_id, part_number, last_modified, md5, data_location)
		 VALUES (?, ?, ?, ?, ?)`,
		part.UploadID, part.PartNumber,
		time.Now().UTC().Format(timeFormat), part.MD5, part.DataLocation,
	)
	if err != nil {
		return fmt.Errorf("upserting part %d of upload %q: %w", part.PartNumber, part.UploadID, err)
	}
	return nil
}

// ListParts returns all parts for the upload ordered by part_number.
func (c *SQLiteCatalog) ListParts(ctx context.Context, uploadID string) ([]MultipartPart, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT upload_id, part_number, last_modified, md5, data_location
		 FROM multipart_upload_part
		 WHERE upload_id = ?
		 ORDER BY part_number ASC`,
		uploadID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing parts for upload %q: %w", uploadID, err)
	}
	defer rows.Close()

	var parts []MultipartPart
	for rows.Next() {
		var p MultipartPart
		var lastModified string
		if err := rows.Scan(&p.UploadID, &p.PartNumber, &lastModified, &p.MD5, &p.DataLocation); err != nil {
			return nil, fmt.Errorf("scanning part row: %w", err)
		}
		p.LastModified, _ = time.Parse(timeFormat, lastModified)
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating part rows: %w", err)
	}
	return parts, nil
}

// scanObject reads one s3_item_detail row via the given Scan function.
func scanObject(scan func(dest ...any) error) (*ObjectDetail, error) {
	var obj ObjectDetail
	var metadata, internalInfo sql.NullString
	var lastModified string
	err := scan(&obj.Bucket, &obj.Key, &metadata, &internalInfo,
		&lastModified, &obj.ETag, &obj.DataLocation)
	if err != nil {
		return nil, err
	}
	obj.Metadata = metadata.String
	obj.InternalInfo = internalInfo.String
	obj.LastModified, _ = time.Parse(timeFormat, lastModified)
	return &obj, nil
}

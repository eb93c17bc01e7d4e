package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/balchua/beggar/internal/config"
)

const (
	// acquireTimeout bounds how long an operation waits for a pooled connection.
	acquireTimeout = 30 * time.Second
	// statementTimeout is the server-side per-statement timeout in milliseconds.
	statementTimeout = "30000"
)

// PostgresCatalog implements the Catalog interface on a PostgreSQL database
// via a pgx connection pool. This is the catalog used in production; a single
// pool is the only shared state and carries its own synchronization.
type PostgresCatalog struct {
	pool *pgxpool.Pool
	// slowAcquire is the threshold above which connection acquisition is
	// logged as a warning.
	slowAcquire time.Duration
}

// NewPostgresCatalog connects to the configured database, validates the
// connection, and creates the schema if it does not exist.
func NewPostgresCatalog(ctx context.Context, ds config.DatasourceConfig) (*PostgresCatalog, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		ds.User, ds.Password, ds.Host, ds.Port, ds.DB)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing datasource config: %w", err)
	}
	poolCfg.MaxConns = int32(ds.MaxConnections)
	poolCfg.MinConns = int32(ds.MinConnections)
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "beggar_s3_server"
	poolCfg.ConnConfig.RuntimeParams["search_path"] = ds.Schema
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = statementTimeout
	if ds.TestBeforeAcquire {
		poolCfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
			return conn.Ping(ctx) == nil
		}
	}

	slog.Info("initializing database connection",
		"host", ds.Host, "port", ds.Port, "db", ds.DB, "schema", ds.Schema)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	c := &PostgresCatalog{
		pool:        pool,
		slowAcquire: time.Duration(ds.AcquireSlowThreshold) * time.Millisecond,
	}

	if err := c.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("validating database connection: %w", err)
	}
	if err := c.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing catalog schema: %w", err)
	}
	return c, nil
}

// initSchema creates the catalog tables. Safe to call on every startup.
func (c *PostgresCatalog) initSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS s3_item_detail (
			bucket        TEXT NOT NULL,
			key           TEXT NOT NULL,
			metadata      TEXT,
			internal_info TEXT,
			last_modified TIMESTAMP NOT NULL,
			md5           TEXT NOT NULL,
			data_location TEXT NOT NULL,

			PRIMARY KEY (bucket, key)
		);

		CREATE TABLE IF NOT EXISTS multipart_upload (
			upload_id     TEXT NOT NULL,
			bucket        TEXT NOT NULL,
			key           TEXT NOT NULL,
			last_modified TIMESTAMP NOT NULL,
			metadata      TEXT,
			access_key    TEXT NOT NULL,

			PRIMARY KEY (upload_id, bucket, key)
		);

		CREATE TABLE IF NOT EXISTS multipart_upload_part (
			upload_id     TEXT NOT NULL,
			part_number   INT NOT NULL,
			last_modified TIMESTAMP NOT NULL,
			md5           TEXT NOT NULL,
			data_location TEXT NOT NULL,

			PRIMARY KEY (upload_id, part_number)
		);
	`
	if _, err := c.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// acquire obtains a pooled connection, warning when acquisition is slow.
func (c *PostgresCatalog) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	start := time.Now()
	conn, err := c.pool.Acquire(ctx)
	if elapsed := time.Since(start); elapsed > c.slowAcquire {
		slog.Warn("slow connection acquisition", "elapsed", elapsed, "threshold", c.slowAcquire)
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	return conn, nil
}

// Close releases the connection pool.
func (c *PostgresCatalog) Close() error {
	c.pool.Close()
	return nil
}

// Ping checks database connectivity with a trivial query.
func (c *PostgresCatalog) Ping(ctx context.Context) error {
	conn, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// UpsertObject inserts or replaces the row identified by (bucket, key).
func (c *PostgresCatalog) UpsertObject(ctx context.Context, obj *ObjectDetail) error {
	conn, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		`INSERT INTO s3_item_detail (bucket, key, metadata, internal_info, last_modified, md5, data_location)
		 VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP, $5, $6)
		 ON CONFLICT (bucket, key) DO UPDATE
		 SET metadata = $3,
		     internal_info = $4,
		     last_modified = CURRENT_TIMESTAMP,
		     md5 = $5,
		     data_location = $6`,
		obj.Bucket, obj.Key, obj.Metadata, obj.InternalInfo, obj.ETag, obj.DataLocation,
	)
	if err != nil {
		return fmt.Errorf("upserting object %q/%q: %w", obj.Bucket, obj.Key, err)
	}
	return nil
}

// GetObject retrieves the row for the exact (bucket, key).
func (c *PostgresCatalog) GetObject(ctx context.Context, bucket, key string) (*ObjectDetail, error) {
	conn, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	row := conn.QueryRow(ctx,
		`SELECT bucket, key, metadata, internal_info, last_modified, md5, data_location
		 FROM s3_item_detail
		 WHERE bucket = $1 AND key = $2`,
		bucket, key,
	)

	var obj ObjectDetail
	err = row.Scan(&obj.Bucket, &obj.Key, &obj.Metadata, &obj.InternalInfo,
		&obj.LastModified, &obj.ETag, &obj.DataLocation)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting object %q/%q: %w", bucket, key, err)
	}
	return &obj, nil
}

// ListObjects returns rows in the bucket matching the key prefix, ordered by
// key ascending and capped at MaxListKeys.
func (c *PostgresCatalog) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectDetail, error) {
	conn, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT bucket, key, metadata, internal_info, last_modified, md5, data_location
		 FROM s3_item_detail
		 WHERE bucket = $1 AND key LIKE $2 || '%'
		 ORDER BY key ASC
		 LIMIT $3`,
		bucket, prefix, MaxListKeys,
	)
	if err != nil {
		return nil, fmt.Errorf("listing objects in %q: %w", bucket, err)
	}
	defer rows.Close()

	var objects []ObjectDetail
	for rows.Next() {
		var obj ObjectDetail
		if err := rows.Scan(&obj.Bucket, &obj.Key, &obj.Metadata, &obj.InternalInfo,
			&obj.LastModified, &obj.ETag, &obj.DataLocation); err != nil {
			return nil, fmt.Errorf("scanning object row: %w", err)
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating object rows: %w", err)
	}
	return objects, nil
}

// ListBuckets returns the distinct buckets in the object table.
func (c *PostgresCatalog) ListBuckets(ctx context.Context) ([]string, error) {
	conn, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT DISTINCT bucket FROM s3_item_detail ORDER BY bucket LIMIT $1`,
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
func (c *PostgresCatalog) InsertMultipartUpload(ctx context.Context, upload *MultipartUpload) error {
	conn, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		`INSERT INTO multipart_upload (upload_id, bucket, key, last_modified, metadata, access_key)
		 VALUES ($1, $2, $3, CURRENT_TIMESTAMP, $4, $5)
		 ON CONFLICT (upload_id, bucket, key) DO UPDATE
		 SET last_modified = CURRENT_TIMESTAMP,
		     metadata = $4,
		     access_key = $5`,
		upload.UploadID, upload.Bucket, upload.Key, upload.Metadata, upload.AccessKey,
	)
	if err != nil {
		return fmt.Errorf("inserting multipart upload %q: %w", upload.UploadID, err)
	}
	return nil
}

// GetMultipartUpload retrieves the upload row by upload_id.
func (c *PostgresCatalog) GetMultipartUpload(ctx context.Context, uploadID string) (*MultipartUpload, error) {
	conn, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	row := conn.QueryRow(ctx,
		`SELECT upload_id, bucket, key, last_modified, metadata, access_key
		 FROM multipart_upload
		 WHERE upload_id = $1`,
		uploadID,
	)

	var u MultipartUpload
	err = row.Scan(&u.UploadID, &u.Bucket, &u.Key, &u.LastModified, &u.Metadata, &u.AccessKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting multipart upload %q: %w", uploadID, err)
	}
	return &u, nil
}

// DeleteMultipartUpload removes the upload row and its parts.
func (c *PostgresCatalog) DeleteMultipartUpload(ctx context.Context, uploadID string) error {
	conn, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx,
		`DELETE FROM multipart_upload_part WHERE upload_id = $1`, uploadID,
	); err != nil {
		return fmt.Errorf("deleting parts for upload %q: %w", uploadID, err)
	}
	if _, err := conn.Exec(ctx,
		`DELETE FROM multipart_upload WHERE upload_id = $1`, uploadID,
	); err != nil {
		return fmt.Errorf("deleting multipart upload %q: %w", uploadID, err)
	}
	return nil
}

// GetAccessKey projects the access_key column of the upload row.
func (c *PostgresCatalog) GetAccessKey(ctx context.Context, uploadID string) (*string, error) {
	conn, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	row := conn.QueryRow(ctx,
		`SELECT access_key FROM multipart_upload WHERE upload_id = $1`,
		uploadID,
	)

	var ak string
	err = row.Scan(&ak)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting access key for upload %q: %w", uploadID, err)
	}
	return &ak, nil
}

// UpsertPart inserts or replaces the part row by (upload_id, part_number).
func (c *PostgresCatalog) UpsertPart(ctx context.Context, part *MultipartPart) error {
	conn, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		`INSERT INTO multipart_upload_part (upload_id, part_number, last_modified, md5, data_location)
		 VALUES ($1, $2, CURRENT_TIMESTAMP, $3, $4)
		 ON CONFLICT (upload_id, part_number) DO UPDATE
		 SET last_modified = CURRENT_TIMESTAMP,
		     md5 = $3,
		     data_location = $4`,
		part.UploadID, part.PartNumber, part.MD5, part.DataLocation,
	)
	if err != nil {
		return fmt.Errorf("upserting part %d of upload %q: %w", part.PartNumber, part.UploadID, err)
	}
	return nil
}

// ListParts returns all parts for the upload ordered by part_number.
func (c *PostgresCatalog) ListParts(ctx context.Context, uploadID string) ([]MultipartPart, error) {
	conn, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT upload_id, part_number, last_modified, md5, data_location
		 FROM multipart_upload_part
		 WHERE upload_id = $1
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
		if err := rows.Scan(&p.UploadID, &p.PartNumber, &p.LastModified, &p.MD5, &p.DataLocation); err != nil {
			return nil, fmt.Errorf("scanning part row: %w", err)
		}
		parts = append(parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating part rows: %w", err)
	}
	return parts, nil
}

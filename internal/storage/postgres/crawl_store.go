// Package postgres provides the Postgres-backed crawl store over the crawldb schema.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/gov-crawler/internal/crawler"
	"github.com/JakeFAU/gov-crawler/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// ErrPageNotFound is returned when an image references a URL with no page row.
var ErrPageNotFound = errors.New("page not found")

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type beginner interface {
	querier
	Begin(context.Context) (pgx.Tx, error)
}

type poolCloser interface {
	beginner
	Close()
}

// CrawlStore implements crawler.Store. Each Session owns one pooled connection.
type CrawlStore struct {
	pool    poolCloser
	acquire func(context.Context) (beginner, func(), error)
}

// NewCrawlStore connects a pgx pool using the provided config.
func NewCrawlStore(ctx context.Context, cfg Config) (*CrawlStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CrawlStore{
		pool: pool,
		acquire: func(ctx context.Context) (beginner, func(), error) {
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return nil, nil, err
			}
			return conn, conn.Release, nil
		},
	}, nil
}

// NewCrawlStoreWithPool constructs a store from an existing pool (primarily for testing).
// Sessions share the pool instead of holding a dedicated connection.
func NewCrawlStoreWithPool(pool poolCloser) (*CrawlStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CrawlStore{
		pool: pool,
		acquire: func(context.Context) (beginner, func(), error) {
			return pool, func() {}, nil
		},
	}, nil
}

// Migrate creates the crawldb schema and seeds the lookup tables.
func (s *CrawlStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Acquire checks out a connection for one worker.
func (s *CrawlStore) Acquire(ctx context.Context) (crawler.Session, error) {
	conn, release, err := s.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Session{conn: conn, release: release}, nil
}

// TruncateAll clears every table except the page_type and data_type lookups.
func (s *CrawlStore) TruncateAll(ctx context.Context) error {
	const query = `TRUNCATE crawldb.link, crawldb.image, crawldb.page_data, crawldb.page, crawldb.site RESTART IDENTITY CASCADE`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *CrawlStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Session is a single worker's connection. Not safe for concurrent use.
type Session struct {
	conn    beginner
	release func()
}

// Release returns the connection to the pool.
func (s *Session) Release() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

// upsertPageSQL inserts a page or promotes its FRONTIER placeholder; any other
// existing row is left untouched and its id returned.
const upsertPageSQL = `
WITH up AS (
	INSERT INTO crawldb.page (site_id, page_type_code, url, html_content, http_status_code, accessed_time, lsh_signature)
	VALUES (NULLIF($1::integer, 0), $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''))
	ON CONFLICT (url) DO UPDATE SET
		site_id = EXCLUDED.site_id,
		page_type_code = EXCLUDED.page_type_code,
		html_content = EXCLUDED.html_content,
		http_status_code = EXCLUDED.http_status_code,
		accessed_time = EXCLUDED.accessed_time,
		lsh_signature = EXCLUDED.lsh_signature
	WHERE crawldb.page.page_type_code = 'FRONTIER'
	RETURNING id
)
SELECT id FROM up
UNION ALL
SELECT id FROM crawldb.page WHERE url = $3
LIMIT 1`

func upsertPage(ctx context.Context, q querier, page model.Page) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, upsertPageSQL,
		page.SiteID,
		string(page.Type),
		page.URL,
		page.Content,
		page.StatusCode,
		page.FetchedAt,
		page.Signature.String(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert page %s: %w", page.URL, err)
	}
	return id, nil
}

// withTx runs fn in a transaction, rolling back on any error.
func (s *Session) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SiteIDByDomain looks a site up by its host.
func (s *Session) SiteIDByDomain(ctx context.Context, domain string) (int64, bool, error) {
	var id int64
	err := s.conn.QueryRow(ctx, `SELECT id FROM crawldb.site WHERE domain = $1`, domain).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("select site: %w", err)
	}
	return id, true, nil
}

// InsertSite creates the site row; an existing domain keeps its original row.
func (s *Session) InsertSite(ctx context.Context, site model.Site) (int64, error) {
	const query = `
INSERT INTO crawldb.site (domain, robots_content, sitemap_content)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
ON CONFLICT (domain) DO UPDATE SET domain = EXCLUDED.domain
RETURNING id`
	var id int64
	if err := s.conn.QueryRow(ctx, query, site.Domain, site.RobotsContent, site.SitemapContent).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert site %s: %w", site.Domain, err)
	}
	return id, nil
}

// InsertPage records an HTML or DUPLICATE page.
func (s *Session) InsertPage(ctx context.Context, page model.Page) (int64, error) {
	return upsertPage(ctx, s.conn, page)
}

// InsertDuplicate records a DUPLICATE page and its link from the original atomically.
func (s *Session) InsertDuplicate(ctx context.Context, page model.Page, originalID int64) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		if id, err = upsertPage(ctx, tx, page); err != nil {
			return err
		}
		return insertLink(ctx, tx, originalID, id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert duplicate: %w", err)
	}
	return id, nil
}

// InsertBinaryPage records a BINARY page and its page_data row atomically.
func (s *Session) InsertBinaryPage(ctx context.Context, page model.Page) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		if id, err = upsertPage(ctx, tx, page); err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO crawldb.page_data (page_id, data_type_code, blob_uri) VALUES ($1, $2, NULLIF($3, ''))`,
			id, string(page.DataType), page.BlobURI,
		)
		if err != nil {
			return fmt.Errorf("insert page_data: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert binary page: %w", err)
	}
	return id, nil
}

// EnsureFrontierPage returns the id of url's page row, creating a FRONTIER placeholder if needed.
func (s *Session) EnsureFrontierPage(ctx context.Context, url string) (int64, error) {
	const query = `
WITH ins AS (
	INSERT INTO crawldb.page (page_type_code, url) VALUES ('FRONTIER', $1)
	ON CONFLICT (url) DO NOTHING
	RETURNING id
)
SELECT id FROM ins
UNION ALL
SELECT id FROM crawldb.page WHERE url = $1
LIMIT 1`
	var id int64
	if err := s.conn.QueryRow(ctx, query, url).Scan(&id); err != nil {
		return 0, fmt.Errorf("ensure frontier page %s: %w", url, err)
	}
	return id, nil
}

// InsertLink records a directed edge; repeated edges are ignored.
func (s *Session) InsertLink(ctx context.Context, fromPageID, toPageID int64) error {
	return insertLink(ctx, s.conn, fromPageID, toPageID)
}

func insertLink(ctx context.Context, q querier, from, to int64) error {
	_, err := q.Exec(ctx,
		`INSERT INTO crawldb.link (from_page, to_page) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		from, to,
	)
	if err != nil {
		return fmt.Errorf("insert link %d->%d: %w", from, to, err)
	}
	return nil
}

// PagesBySignature lists HTML pages carrying sig, oldest first.
func (s *Session) PagesBySignature(ctx context.Context, sig model.Signature) ([]int64, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT id FROM crawldb.page WHERE lsh_signature = $1 AND page_type_code = 'HTML' ORDER BY id`,
		sig.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("select pages by signature: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("scan pages by signature: %w", err)
	}
	return ids, nil
}

// PageContentAndURL returns the stored HTML and URL of a page.
func (s *Session) PageContentAndURL(ctx context.Context, pageID int64) (string, string, error) {
	var content, url string
	err := s.conn.QueryRow(ctx,
		`SELECT COALESCE(html_content, ''), url FROM crawldb.page WHERE id = $1`,
		pageID,
	).Scan(&content, &url)
	if err != nil {
		return "", "", fmt.Errorf("select page %d: %w", pageID, err)
	}
	return content, url, nil
}

// InsertImage stores an image against the page with the given URL.
func (s *Session) InsertImage(ctx context.Context, image model.Image) error {
	const query = `
INSERT INTO crawldb.image (page_id, filename, content_type, data, accessed_time)
SELECT id, $2, $3, $4, $5 FROM crawldb.page WHERE url = $1`
	tag, err := s.conn.Exec(ctx, query, image.PageURL, image.Filename, image.ContentType, image.Data, image.FetchedAt)
	if err != nil {
		return fmt.Errorf("insert image %s: %w", image.Filename, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert image %s: %w: %s", image.Filename, ErrPageNotFound, image.PageURL)
	}
	return nil
}

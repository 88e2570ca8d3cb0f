package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/namedfs/namedfs/pkg/types"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS named_clusters (
	name        text PRIMARY KEY,
	host        text NOT NULL,
	port        integer NOT NULL,
	variant     text NOT NULL DEFAULT 'standard',
	shim        text NOT NULL DEFAULT '',
	username    text NOT NULL DEFAULT '',
	secret      text NOT NULL DEFAULT '',
	properties  jsonb NOT NULL DEFAULT '{}'::jsonb,
	updated_at  timestamptz NOT NULL DEFAULT now()
)`

const pgColumns = `name, host, port, variant, shim, username, secret, properties`

// PostgresStore keeps records in the named_clusters table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the table when missing.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, unavailable("postgres", "open", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("postgres", "open", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, unavailable("postgres", "open", fmt.Errorf("ensure schema: %w", err))
	}
	return &PostgresStore{pool: pool}, nil
}

func scanCluster(row pgx.Row) (types.NamedCluster, error) {
	var (
		nc       types.NamedCluster
		variant  string
		username string
		secret   string
		props    map[string]string
	)
	if err := row.Scan(&nc.Name, &nc.Host, &nc.Port, &variant, &nc.ShimIdentifier, &username, &secret, &props); err != nil {
		return types.NamedCluster{}, err
	}
	v, err := types.ParseSchemeVariant(variant)
	if err != nil {
		return types.NamedCluster{}, err
	}
	nc.Variant = v
	if username != "" || secret != "" {
		nc.Credentials = &types.Credentials{Username: username, Secret: secret}
	}
	if len(props) > 0 {
		nc.Properties = props
	}
	return nc, nil
}

func (s *PostgresStore) Get(ctx context.Context, name string) (types.NamedCluster, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM named_clusters WHERE name = $1`, name)
	nc, err := scanCluster(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NamedCluster{}, notFound("postgres", name)
		}
		return types.NamedCluster{}, unavailable("postgres", "get", err)
	}
	return nc, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]types.NamedCluster, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgColumns+` FROM named_clusters ORDER BY name`)
	if err != nil {
		return nil, unavailable("postgres", "list", err)
	}
	defer rows.Close()

	var out []types.NamedCluster
	for rows.Next() {
		nc, err := scanCluster(rows)
		if err != nil {
			return nil, unavailable("postgres", "list", err)
		}
		out = append(out, nc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("postgres", "list", err)
	}
	return out, nil
}

func (s *PostgresStore) Put(ctx context.Context, nc types.NamedCluster) error {
	const q = `
INSERT INTO named_clusters (` + pgColumns + `, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (name) DO UPDATE SET
	host = EXCLUDED.host,
	port = EXCLUDED.port,
	variant = EXCLUDED.variant,
	shim = EXCLUDED.shim,
	username = EXCLUDED.username,
	secret = EXCLUDED.secret,
	properties = EXCLUDED.properties,
	updated_at = now()`

	var username, secret string
	if nc.Credentials != nil {
		username, secret = nc.Credentials.Username, nc.Credentials.Secret
	}
	props := nc.Properties
	if props == nil {
		props = map[string]string{}
	}
	if _, err := s.pool.Exec(ctx, q, nc.Name, nc.Host, nc.Port, nc.Variant.String(), nc.ShimIdentifier, username, secret, props); err != nil {
		return unavailable("postgres", "put", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM named_clusters WHERE name = $1`, name)
	if err != nil {
		return unavailable("postgres", "delete", err)
	}
	return deleteResult("postgres", name, tag.RowsAffected())
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

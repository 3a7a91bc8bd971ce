// Package metadatacache implements the shared metadata cache: an
// in-process LRU for hot reads in front of a pluggable on-disk tier, with
// single-flight collapsing of concurrent misses for the same key. The
// on-disk tier is a kv.Store, so it can be backed by sqlite, rqlite, or
// postgres.
package metadatacache

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/a-h/kv"
	"github.com/a-h/kv/postgreskv"
	"github.com/a-h/kv/rqlitekv"
	"github.com/a-h/kv/sqlitekv"
	"github.com/jackc/pgx/v5/pgxpool"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// NewDiskStore opens the on-disk tier: "sqlite" (default), "rqlite", or
// "postgres".
func NewDiskStore(ctx context.Context, dbType, dsn string) (store kv.Store, closer func() error, err error) {
	switch dbType {
	case "", "sqlite":
		store, closer, err = newSqliteStore(dsn)
	case "rqlite":
		store, closer, err = newRqliteStore(dsn)
	case "postgres":
		store, closer, err = newPostgresStore(dsn)
	default:
		return nil, nil, fmt.Errorf("metadatacache: unsupported database type: %s", dbType)
	}
	if err != nil {
		return nil, nil, err
	}
	if err = store.Init(ctx); err != nil {
		_ = closer()
		return nil, nil, err
	}
	return store, closer, nil
}

func newSqliteStore(dsn string) (store kv.Store, closer func() error, err error) {
	dsnURI, err := url.Parse(dsn)
	if err != nil {
		return nil, nil, err
	}
	opts := sqlitex.PoolOptions{
		Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenURI,
	}
	if strings.EqualFold(dsnURI.Query().Get("_journal_mode"), "wal") {
		opts.Flags |= sqlite.OpenWAL
	}
	pool, err := sqlitex.NewPool(dsn, opts)
	if err != nil {
		return nil, nil, err
	}
	return sqlitekv.NewStore(pool), pool.Close, nil
}

func newRqliteStore(dsn string) (store kv.Store, closer func() error, err error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, nil, err
	}
	client := rqlitehttp.NewClient(dsn, nil)
	if u.User != nil {
		pwd, _ := u.User.Password()
		client.SetBasicAuth(u.User.Username(), pwd)
	}
	return rqlitekv.NewStore(client), func() error { return nil }, nil
}

func newPostgresStore(dsn string) (store kv.Store, closer func() error, err error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, nil, err
	}
	return postgreskv.NewStore(pool), func() error { pool.Close(); return nil }, nil
}

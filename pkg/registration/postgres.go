package registration

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/StricklySoft/ezsecurity/pkg/clients/postgres"
	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

// SQLExecutor is the subset of [postgres.Client] the SQL store uses.
type SQLExecutor interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ SQLExecutor = (*postgres.Client)(nil)

const (
	schemaSQL = `CREATE TABLE IF NOT EXISTS app_registrations (
	security_id     TEXT PRIMARY KEY,
	app_name        TEXT NOT NULL,
	public_key      TEXT NOT NULL DEFAULT '',
	level           TEXT NOT NULL DEFAULT '',
	formal_auths    TEXT[] NOT NULL DEFAULT '{}',
	community_auths TEXT[] NOT NULL DEFAULT '{}',
	dn              TEXT NOT NULL DEFAULT '',
	admins          TEXT[] NOT NULL DEFAULT '{}',
	owner           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'ACTIVE'
)`

	lookupSQL = `SELECT security_id, app_name, public_key, level, formal_auths,
	community_auths, dn, admins, owner, status
FROM app_registrations WHERE security_id = $1`

	upsertSQL = `INSERT INTO app_registrations
	(security_id, app_name, public_key, level, formal_auths, community_auths, dn, admins, owner, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (security_id) DO UPDATE SET
	app_name = EXCLUDED.app_name,
	public_key = EXCLUDED.public_key,
	level = EXCLUDED.level,
	formal_auths = EXCLUDED.formal_auths,
	community_auths = EXCLUDED.community_auths,
	dn = EXCLUDED.dn,
	admins = EXCLUDED.admins,
	owner = EXCLUDED.owner,
	status = EXCLUDED.status`
)

// PostgresStore keeps registrations in the app_registrations table.
type PostgresStore struct {
	db SQLExecutor
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store over db.
func NewPostgresStore(db SQLExecutor) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the registrations table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return sserr.Upstream(err, "registration store")
	}
	return nil
}

// Lookup implements [Store].
func (s *PostgresStore) Lookup(ctx context.Context, id string) (*Registration, error) {
	var (
		r      Registration
		status string
		formal []string
		comm   []string
	)
	err := s.db.QueryRow(ctx, lookupSQL, id).Scan(
		&r.ID, &r.Name, &r.PublicKey, &r.Level, &formal,
		&comm, &r.DN, &r.Admins, &r.Owner, &status,
	)
	if err != nil {
		if wrapped, ok := postgres.ScanError(err, "registration: lookup failed"); ok {
			return nil, wrapped
		}
		return nil, sserr.AppNotRegistered(id)
	}
	r.Formal = formal
	r.Community = comm
	r.Status = Status(status)
	return &r, nil
}

// Put inserts or replaces a registration.
func (s *PostgresStore) Put(ctx context.Context, r Registration) error {
	status := r.Status
	if status == "" {
		status = StatusActive
	}
	_, err := s.db.Exec(ctx, upsertSQL,
		r.ID, r.Name, r.PublicKey, r.Level, []string(r.Formal.Normalize()),
		[]string(r.Community.Normalize()), r.DN, nonNil(r.Admins), r.Owner, string(status),
	)
	if err != nil {
		return sserr.Upstream(err, "registration store")
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

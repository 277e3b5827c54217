package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/ezsecurity/pkg/errors"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

// ===========================================================================
// NewFromPool
// ===========================================================================

func TestNewFromPool_WithConfig(t *testing.T) {
	mock := newMock(t)
	cfg := &Config{Database: "ezsecurity"}
	client := NewFromPool(mock, cfg)

	assert.Same(t, cfg, client.config)
	assert.Equal(t, "ezsecurity", client.databaseName)
	assert.NotNil(t, client.tracer)
}

// TestNewFromPool_DatabaseFromURI verifies the span database name is taken
// from the URI path when Database is empty.
func TestNewFromPool_DatabaseFromURI(t *testing.T) {
	client := NewFromPool(newMock(t), &Config{URI: "postgres://u@h:5432/registry"})
	assert.Equal(t, "registry", client.databaseName)
}

func TestNewFromPool_NilConfig(t *testing.T) {
	client := NewFromPool(newMock(t), nil)
	require.NotNil(t, client.config)
	assert.Empty(t, client.databaseName)
}

// ===========================================================================
// Query / QueryRow / Exec
// ===========================================================================

func TestClient_Query_Success(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT security_id FROM registrations").
		WillReturnRows(pgxmock.NewRows([]string{"security_id"}).AddRow("SecurityClientTest").AddRow("client"))

	client := NewFromPool(mock, &Config{Database: "ezsecurity"})
	rows, err := client.Query(context.Background(), "SELECT security_id FROM registrations")
	require.NoError(t, err)
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	assert.Equal(t, []string{"SecurityClientTest", "client"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestClient_Query_Error verifies non-deadline failures are classified as
// database errors.
func TestClient_Query_Error(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation does not exist"))

	client := NewFromPool(mock, nil)
	_, err := client.Query(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, sserr.CodeInternalDatabase, sserr.GetCode(err))
	assert.False(t, sserr.IsRetryable(err))
}

// TestClient_Query_Deadline verifies a deadline is reported as an upstream
// timeout.
func TestClient_Query_Deadline(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT").WillReturnError(context.DeadlineExceeded)

	client := NewFromPool(mock, nil)
	_, err := client.Query(context.Background(), "SELECT 1")
	assert.Equal(t, sserr.CodeUpstreamTimeout, sserr.GetCode(err))
	assert.True(t, sserr.IsRetryable(err))
}

func TestClient_QueryRow(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT level").WithArgs("client").
		WillReturnRows(pgxmock.NewRows([]string{"level"}).AddRow("low"))

	client := NewFromPool(mock, nil)
	var level string
	require.NoError(t, client.QueryRow(context.Background(), "SELECT level FROM registrations WHERE security_id = $1", "client").Scan(&level))
	assert.Equal(t, "low", level)
}

func TestClient_Exec(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("DELETE FROM registrations").WithArgs("client").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	client := NewFromPool(mock, nil)
	tag, err := client.Exec(context.Background(), "DELETE FROM registrations WHERE security_id = $1", "client")
	require.NoError(t, err)
	assert.EqualValues(t, 1, tag.RowsAffected())
}

func TestClient_Exec_Error(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("INSERT").WillReturnError(errors.New("unique violation"))

	client := NewFromPool(mock, nil)
	_, err := client.Exec(context.Background(), "INSERT INTO audit_events VALUES ($1)", "x")
	assert.Equal(t, sserr.CodeInternalDatabase, sserr.GetCode(err))
}

// ===========================================================================
// Health / ScanError
// ===========================================================================

func TestClient_Health(t *testing.T) {
	mock := newMock(t)
	mock.ExpectPing()
	client := NewFromPool(mock, nil)
	assert.NoError(t, client.Health(context.Background()))
}

func TestClient_Health_Failure(t *testing.T) {
	mock := newMock(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	client := NewFromPool(mock, nil)

	err := client.Health(context.Background())
	assert.Equal(t, sserr.CodeUpstreamUnavailable, sserr.GetCode(err))
}

func TestScanError(t *testing.T) {
	wrapped, ok := ScanError(pgx.ErrNoRows, "scan")
	assert.False(t, ok)
	assert.Nil(t, wrapped)

	wrapped, ok = ScanError(errors.New("bad column"), "scan")
	assert.True(t, ok)
	assert.Equal(t, sserr.CodeInternalDatabase, sserr.GetCode(wrapped))
}

package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// DataStore is one row of data_store. Payload is the raw JSON document.
type DataStore struct {
	APIKey    string
	Payload   string
	UpdatedAt string
}

const getDataStore = `SELECT api_key, payload, updated_at FROM data_store WHERE api_key = ?`

func (q *Queries) GetDataStore(ctx context.Context, apiKey string) (DataStore, error) {
	row := q.db.QueryRowContext(ctx, getDataStore, apiKey)
	var i DataStore
	err := row.Scan(&i.APIKey, &i.Payload, &i.UpdatedAt)
	return i, err
}

const upsertDataStore = `INSERT INTO data_store (api_key, payload, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(api_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`

type UpsertDataStoreParams struct {
	APIKey    string
	Payload   string
	UpdatedAt string
}

func (q *Queries) UpsertDataStore(ctx context.Context, arg UpsertDataStoreParams) error {
	_, err := q.db.ExecContext(ctx, upsertDataStore, arg.APIKey, arg.Payload, arg.UpdatedAt)
	return err
}

const listDataStoreKeys = `SELECT api_key FROM data_store ORDER BY api_key`

func (q *Queries) ListDataStoreKeys(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listDataStoreKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		items = append(items, key)
	}
	return items, rows.Err()
}

type UserRow struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	Role         string
	CreatedAt    string
}

const userColumns = `id, username, password_hash, email, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (UserRow, error) {
	var i UserRow
	err := row.Scan(&i.ID, &i.Username, &i.PasswordHash, &i.Email, &i.Role, &i.CreatedAt)
	return i, err
}

const createUser = `INSERT INTO users (username, password_hash, email, role, created_at)
VALUES (?, ?, ?, ?, ?)
RETURNING ` + userColumns

type CreateUserParams struct {
	Username     string
	PasswordHash string
	Email        string
	Role         string
	CreatedAt    string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (UserRow, error) {
	row := q.db.QueryRowContext(ctx, createUser, arg.Username, arg.PasswordHash, arg.Email, arg.Role, arg.CreatedAt)
	return scanUser(row)
}

const getUserByUsername = `SELECT ` + userColumns + ` FROM users WHERE username = ?`

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (UserRow, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByUsername, username))
}

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = ?`

func (q *Queries) GetUserByID(ctx context.Context, id int64) (UserRow, error) {
	return scanUser(q.db.QueryRowContext(ctx, getUserByID, id))
}

const updateUserPassword = `UPDATE users SET password_hash = ? WHERE id = ?`

func (q *Queries) UpdateUserPassword(ctx context.Context, passwordHash string, id int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateUserPassword, passwordHash, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const countUsers = `SELECT COUNT(*) FROM users`

func (q *Queries) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countUsers).Scan(&n)
	return n, err
}

type ExportQueueRow struct {
	ID        int64
	TenantKey string
	Status    string
	Attempts  int64
	LastError string
	CreatedAt string
	UpdatedAt string
}

// enqueueExport skips tenants that already have a pending row.
const enqueueExport = `INSERT INTO export_queue (tenant_key, status, attempts, last_error, created_at, updated_at)
SELECT ?1, 'pending', 0, '', ?2, ?2
WHERE NOT EXISTS (SELECT 1 FROM export_queue WHERE tenant_key = ?1 AND status = 'pending')`

func (q *Queries) EnqueueExport(ctx context.Context, tenantKey, now string) (int64, error) {
	res, err := q.db.ExecContext(ctx, enqueueExport, tenantKey, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const getPendingExports = `SELECT id, tenant_key, status, attempts, last_error, created_at, updated_at
FROM export_queue
WHERE status = 'pending' AND attempts < ?
ORDER BY id
LIMIT ?`

func (q *Queries) GetPendingExports(ctx context.Context, maxAttempts, limit int64) ([]ExportQueueRow, error) {
	rows, err := q.db.QueryContext(ctx, getPendingExports, maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExportQueueRow
	for rows.Next() {
		var i ExportQueueRow
		if err := rows.Scan(&i.ID, &i.TenantKey, &i.Status, &i.Attempts, &i.LastError, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const markExportDone = `UPDATE export_queue SET status = 'done', last_error = '', updated_at = ? WHERE id = ?`

func (q *Queries) MarkExportDone(ctx context.Context, now string, id int64) error {
	_, err := q.db.ExecContext(ctx, markExportDone, now, id)
	return err
}

// markExportFailed keeps the row pending until attempts reach the limit.
const markExportFailed = `UPDATE export_queue
SET attempts = attempts + 1,
    last_error = ?,
    status = CASE WHEN attempts + 1 >= ? THEN 'error' ELSE 'pending' END,
    updated_at = ?
WHERE id = ?`

type MarkExportFailedParams struct {
	LastError   string
	MaxAttempts int64
	UpdatedAt   string
	ID          int64
}

func (q *Queries) MarkExportFailed(ctx context.Context, arg MarkExportFailedParams) error {
	_, err := q.db.ExecContext(ctx, markExportFailed, arg.LastError, arg.MaxAttempts, arg.UpdatedAt, arg.ID)
	return err
}

const deleteFinishedExports = `DELETE FROM export_queue WHERE status = 'done' AND updated_at < ?`

func (q *Queries) DeleteFinishedExports(ctx context.Context, before string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteFinishedExports, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

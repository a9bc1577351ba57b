package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"freelance-erp/internal/core"
)

type memoryEntry struct {
	doc       core.Document
	updatedAt time.Time
}

type memoryJob struct {
	ExportJob
	status    string
	updatedAt time.Time
}

// MemoryRepository keeps documents, users and the export queue in process
// memory. It backs the memory backend and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	docs   map[string]memoryEntry
	users  []User
	jobs   []*memoryJob
	nextID int64
	now    func() time.Time
}

func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{
		docs: make(map[string]memoryEntry),
		now:  now,
	}
}

func (m *MemoryRepository) Close() error { return nil }
func (m *MemoryRepository) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryRepository) GetDocument(ctx context.Context, key string) (core.Document, *time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.docs[key]
	if !ok {
		return core.EmptyDocument(), nil, nil
	}
	at := e.updatedAt
	return e.doc.Clone(), &at, nil
}

func (m *MemoryRepository) PutDocument(ctx context.Context, key string, doc core.Document) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	now := m.now().UTC().Truncate(time.Millisecond)
	d := doc.Clone()
	d.Normalize()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = memoryEntry{doc: d, updatedAt: now}
	m.enqueueLocked(key, now)
	return now, nil
}

func (m *MemoryRepository) ListTenants(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryRepository) CreateUser(ctx context.Context, username, passwordHash, email, role string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return User{}, fmt.Errorf("create user %q: %w", username, ErrUserExists)
		}
	}
	u := User{
		ID:           int64(len(m.users) + 1),
		Username:     username,
		PasswordHash: passwordHash,
		Email:        email,
		Role:         role,
		CreatedAt:    m.now().UTC(),
	}
	m.users = append(m.users, u)
	return u, nil
}

func (m *MemoryRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *MemoryRepository) GetUserByID(ctx context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *MemoryRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.users {
		if m.users[i].ID == id {
			m.users[i].PasswordHash = passwordHash
			return nil
		}
	}
	return ErrUserNotFound
}

func (m *MemoryRepository) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MemoryRepository) EnqueueExport(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueLocked(key, m.now().UTC())
	return nil
}

func (m *MemoryRepository) enqueueLocked(key string, now time.Time) {
	for _, j := range m.jobs {
		if j.TenantKey == key && j.status == "pending" {
			return
		}
	}
	m.nextID++
	m.jobs = append(m.jobs, &memoryJob{
		ExportJob: ExportJob{ID: m.nextID, TenantKey: key, CreatedAt: now},
		status:    "pending",
		updatedAt: now,
	})
}

func (m *MemoryRepository) DequeueExports(ctx context.Context, limit, maxAttempts int) ([]ExportJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ExportJob
	for _, j := range m.jobs {
		if len(out) == limit {
			break
		}
		if j.status == "pending" && j.Attempts < maxAttempts {
			out = append(out, j.ExportJob)
		}
	}
	return out, nil
}

func (m *MemoryRepository) job(id int64) (*memoryJob, error) {
	for _, j := range m.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, fmt.Errorf("export job %d: %w", id, core.ErrNotFound)
}

func (m *MemoryRepository) MarkExportDone(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.job(id)
	if err != nil {
		return err
	}
	j.status = "done"
	j.LastError = ""
	j.updatedAt = m.now().UTC()
	return nil
}

func (m *MemoryRepository) MarkExportFailed(ctx context.Context, id int64, cause error, maxAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, err := m.job(id)
	if err != nil {
		return err
	}
	j.Attempts++
	if cause != nil {
		j.LastError = cause.Error()
	}
	if j.Attempts >= maxAttempts {
		j.status = "error"
	}
	j.updatedAt = m.now().UTC()
	return nil
}

func (m *MemoryRepository) CleanupExports(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-olderThan)
	kept := m.jobs[:0]
	removed := 0
	for _, j := range m.jobs {
		if j.status == "done" && j.updatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, j)
	}
	m.jobs = kept
	return removed, nil
}

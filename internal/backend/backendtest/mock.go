// Package backendtest provides hand-written counting mocks for the
// backend.Client contract, shared by the coordinator and facade tests.
package backendtest

import (
	"context"
	"sync"

	"agenthub-backend/internal/apperrors"
	"agenthub-backend/internal/backend"
	"agenthub-backend/internal/domain"
)

// MockClient is an in-memory backend with per-operation call counting and
// failure injection.
type MockClient struct {
	kind backend.Kind
	name string

	mu      sync.Mutex
	records map[string]map[string]domain.Record
	calls   map[string]int

	// FailWith makes every operation fail. FailOps fails single operations.
	FailWith error
	FailOps  map[string]error

	// BeforeOp, when set, runs before the operation body. Tests use it to
	// hold a call in flight.
	BeforeOp func(operation string)
}

var _ backend.Client = (*MockClient)(nil)

func NewMockClient(kind backend.Kind, name string) *MockClient {
	return &MockClient{
		kind:    kind,
		name:    name,
		records: make(map[string]map[string]domain.Record),
		calls:   make(map[string]int),
		FailOps: make(map[string]error),
	}
}

func (m *MockClient) Kind() backend.Kind { return m.kind }
func (m *MockClient) Name() string       { return m.name }

// Calls returns how many times the operation ran.
func (m *MockClient) Calls(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[operation]
}

// Seed stores a record directly, bypassing counters.
func (m *MockClient) Seed(collection string, rec domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucket(collection)[rec.ID()] = rec.Clone()
}

func (m *MockClient) bucket(collection string) map[string]domain.Record {
	if m.records[collection] == nil {
		m.records[collection] = make(map[string]domain.Record)
	}
	return m.records[collection]
}

func (m *MockClient) begin(operation string) error {
	m.mu.Lock()
	m.calls[operation]++
	err := m.FailOps[operation]
	if err == nil {
		err = m.FailWith
	}
	hook := m.BeforeOp
	m.mu.Unlock()

	if hook != nil {
		hook(operation)
	}
	return err
}

func (m *MockClient) Get(ctx context.Context, collection, id string) (domain.Record, error) {
	if err := m.begin("get"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.bucket(collection)[id]
	if !ok {
		return nil, apperrors.NotFound(m.name, "get", id)
	}
	return rec.Clone(), nil
}

func (m *MockClient) List(ctx context.Context, collection string, opts domain.QueryOptions) ([]domain.Record, error) {
	if err := m.begin("list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Record
	for _, rec := range m.bucket(collection) {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *MockClient) Count(ctx context.Context, collection string, opts domain.QueryOptions) (int64, error) {
	if err := m.begin("count"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.bucket(collection))), nil
}

func (m *MockClient) Insert(ctx context.Context, collection string, record domain.Record) (domain.Record, error) {
	if err := m.begin("insert"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := record.ID()
	if _, exists := m.bucket(collection)[id]; exists {
		return nil, apperrors.Operation(m.name, "insert", "record already exists", nil)
	}
	m.bucket(collection)[id] = record.Clone()
	return record.Clone(), nil
}

func (m *MockClient) Update(ctx context.Context, collection, id string, partial domain.Record) (domain.Record, error) {
	if err := m.begin("update"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.bucket(collection)[id]
	if !ok {
		return nil, apperrors.NotFound(m.name, "update", id)
	}
	for k, v := range partial {
		if k == "id" {
			continue
		}
		rec[k] = v
	}
	return rec.Clone(), nil
}

func (m *MockClient) Delete(ctx context.Context, collection, id string) error {
	if err := m.begin("delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bucket(collection)[id]; !ok {
		return apperrors.NotFound(m.name, "delete", id)
	}
	delete(m.bucket(collection), id)
	return nil
}

func (m *MockClient) RawQuery(ctx context.Context, query string, params ...any) ([]domain.Record, error) {
	if err := m.begin("rawQuery"); err != nil {
		return nil, err
	}
	return nil, nil
}

// MockTxClient adds transaction support to MockClient: fn runs against a
// snapshot that replaces the live data only on success.
type MockTxClient struct {
	*MockClient
	BeginErr error
}

var (
	_ backend.Client        = (*MockTxClient)(nil)
	_ backend.Transactional = (*MockTxClient)(nil)
)

func NewMockTxClient(kind backend.Kind, name string) *MockTxClient {
	return &MockTxClient{MockClient: NewMockClient(kind, name)}
}

func (m *MockTxClient) WithTransaction(ctx context.Context, fn func(tx backend.Client) error) error {
	if m.BeginErr != nil {
		return apperrors.Transaction("begin", "failed to begin transaction", m.BeginErr)
	}
	shadow := NewMockClient(m.kind, m.name)
	m.mu.Lock()
	for collection, bucket := range m.records {
		for id, rec := range bucket {
			shadow.bucket(collection)[id] = rec.Clone()
		}
	}
	m.mu.Unlock()

	if err := fn(shadow); err != nil {
		return err
	}

	m.mu.Lock()
	m.records = shadow.records
	m.mu.Unlock()
	return nil
}

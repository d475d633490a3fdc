package recordapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// Call is one Write observed by a MemoryWriter.
type Call struct {
	Target   string
	RecordID string
	Method   string
	Fields   map[string]interface{}
}

// MemoryWriter stores records in memory. Fail makes the next writes return
// an error; it is used by tests and by `serve` when no base URL is set.
type MemoryWriter struct {
	mu      sync.Mutex
	records map[string]map[string]interface{}
	calls   []Call
	seq     int
	failErr error
	onWrite func(Call)
}

// NewMemoryWriter creates an empty store.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{records: make(map[string]map[string]interface{})}
}

// Fail makes every following Write return err; nil restores success.
func (m *MemoryWriter) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// OnWrite registers a callback invoked after every successful Write.
func (m *MemoryWriter) OnWrite(fn func(Call)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onWrite = fn
}

func (m *MemoryWriter) Write(_ context.Context, target, recordID string, fields map[string]interface{}, method string) (Record, error) {
	m.mu.Lock()
	call := Call{Target: target, RecordID: recordID, Method: MethodFor(recordID, method), Fields: copyFields(fields)}
	m.calls = append(m.calls, call)
	if m.failErr != nil {
		err := m.failErr
		m.mu.Unlock()
		return Record{}, err
	}

	id := recordID
	if id == "" {
		m.seq++
		id = fmt.Sprintf("rec-%d", m.seq)
	} else if _, ok := m.records[target+"/"+id]; !ok && call.Method == http.MethodPut {
		m.mu.Unlock()
		return Record{}, &Error{StatusCode: http.StatusNotFound, Body: "record not found"}
	}
	stored := m.records[target+"/"+id]
	if stored == nil {
		stored = make(map[string]interface{})
		m.records[target+"/"+id] = stored
	}
	for k, v := range fields {
		stored[k] = v
	}
	onWrite := m.onWrite
	rec := Record{ID: id, Fields: copyFields(stored)}
	m.mu.Unlock()

	if onWrite != nil {
		onWrite(call)
	}
	return rec, nil
}

// Seed creates a record with a known id, e.g. the signed-in account.
func (m *MemoryWriter) Seed(target, recordID string, fields map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[target+"/"+recordID] = copyFields(fields)
}

// Get returns a stored record.
func (m *MemoryWriter) Get(target, recordID string) (map[string]interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[target+"/"+recordID]
	return copyFields(rec), ok
}

// Calls returns every Write seen so far, failed ones included.
func (m *MemoryWriter) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func copyFields(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ Writer = (*MemoryWriter)(nil)

package capture

import (
	"time"

	"github.com/dgnsrekt/apicapture/internal/types"
)

// RecordStore maps request ids to records in insertion order.
// It is not safe for concurrent use; the Engine serializes all access.
type RecordStore struct {
	order   []string
	records map[string]*types.Record
}

func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]*types.Record)}
}

// UpsertRequest creates a record for id unless one already exists.
// It reports whether a record was created.
func (s *RecordStore) UpsertRequest(id, endpoint string, ts time.Time, payload *string, authNeeded bool) bool {
	if _, ok := s.records[id]; ok {
		return false
	}
	s.records[id] = &types.Record{
		ID:         id,
		Endpoint:   endpoint,
		Timestamp:  ts,
		Payload:    payload,
		AuthNeeded: authNeeded,
	}
	s.order = append(s.order, id)
	return true
}

// SetResponseMeta records the response status. Unknown ids and already-set
// statuses are left untouched.
func (s *RecordStore) SetResponseMeta(id string, status int) bool {
	rec, ok := s.records[id]
	if !ok || rec.ReturnCode.IsSet() {
		return false
	}
	rec.ReturnCode = types.StatusCode(status)
	return true
}

// SetResponseBody records the response body once.
func (s *RecordStore) SetResponseBody(id string, body *types.Body) bool {
	rec, ok := s.records[id]
	if !ok || rec.Response != nil || body == nil {
		return false
	}
	rec.Response = body
	return true
}

// SetFailure marks the record FAILED with errorText as its response. A record
// whose body is already resolved is not rewritten.
func (s *RecordStore) SetFailure(id, errorText string) bool {
	rec, ok := s.records[id]
	if !ok || rec.Response != nil {
		return false
	}
	rec.ReturnCode = types.FailedCode()
	rec.Response = types.TextBody(errorText)
	return true
}

func (s *RecordStore) Has(id string) bool {
	_, ok := s.records[id]
	return ok
}

// BodyResolved reports whether id has a body (including placeholders).
func (s *RecordStore) BodyResolved(id string) bool {
	rec, ok := s.records[id]
	return ok && rec.Response != nil
}

// Get returns a copy of the record for id.
func (s *RecordStore) Get(id string) (*types.Record, bool) {
	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

func (s *RecordStore) Len() int { return len(s.order) }

// SnapshotAndClear returns every record in insertion order and empties the store.
func (s *RecordStore) SnapshotAndClear() []*types.Record {
	out := make([]*types.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	s.Reset()
	return out
}

// Restore puts a snapshot back ahead of any records added since it was taken.
func (s *RecordStore) Restore(snapshot []*types.Record) {
	if len(snapshot) == 0 {
		return
	}
	order := make([]string, 0, len(snapshot)+len(s.order))
	for _, rec := range snapshot {
		if _, ok := s.records[rec.ID]; ok {
			continue
		}
		s.records[rec.ID] = rec
		order = append(order, rec.ID)
	}
	s.order = append(order, s.order...)
}

func (s *RecordStore) Reset() {
	s.order = nil
	s.records = make(map[string]*types.Record)
}

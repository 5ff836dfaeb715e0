package http

import (
	"sync"

	"github.com/dkeye/Call/internal/domain"
)

// CallRecordStore is the side-channel bookkeeping behind the REST surface.
// Records never gate real-time signaling; the protocol stays authoritative.
type CallRecordStore struct {
	mu      sync.RWMutex
	records map[domain.CallID]*domain.Call
}

func NewCallRecordStore() *CallRecordStore {
	return &CallRecordStore{records: make(map[domain.CallID]*domain.Call)}
}

func (s *CallRecordStore) Start(caller, callee domain.UserID, t domain.CallType, conv domain.ConversationID) *domain.Call {
	call := domain.NewCall(caller, callee, t, conv)
	s.mu.Lock()
	s.records[call.ID] = call
	s.mu.Unlock()
	return call
}

func (s *CallRecordStore) Get(id domain.CallID) (*domain.Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.records[id]
	return c, ok
}

// End marks the record ended. Ending twice keeps the first terminal status.
func (s *CallRecordStore) End(id domain.CallID) (*domain.Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.records[id]
	if !ok {
		return nil, false
	}
	_ = c.Transition(domain.CallEnded)
	return c, true
}

func (s *CallRecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

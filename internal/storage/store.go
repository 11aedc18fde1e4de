package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/rs/zerolog"
)

// Store is the agent directory, company directory and session history
type Store interface {
	LookupAgent(ctx context.Context, companyID, agentHandle string) (types.AgentRecord, error)
	LookupCompany(ctx context.Context, companyID string) (types.CompanyRecord, error)
	PutAgent(ctx context.Context, record types.AgentRecord) error
	PutCompany(ctx context.Context, record types.CompanyRecord) error
	SaveSessionRecord(ctx context.Context, record types.SessionRecord) error
	GetSessionRecords(ctx context.Context, companyID, date string) ([]types.SessionRecord, error)
	TruncateAll(ctx context.Context) error
}

// NewStore creates the appropriate store based on configuration
func NewStore(ctx context.Context, logger zerolog.Logger) (Store, error) {
	cfg := LoadDynamoConfig()

	switch cfg.Mode {
	case DynamoModeLocal, DynamoModeAWS:
		return NewDynamoDBStore(ctx, cfg, logger)
	default:
		logger.Info().Msg("DynamoDB disabled (DYNAMO_MODE=none), using in-memory store")
		return NewMemoryStore(), nil
	}
}

// MemoryStore keeps everything in process; contents are lost on restart
type MemoryStore struct {
	mu        sync.RWMutex
	agents    map[types.AgentKey]types.AgentRecord
	companies map[string]types.CompanyRecord
	sessions  map[string][]types.SessionRecord // by CompanyDate
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:    make(map[types.AgentKey]types.AgentRecord),
		companies: make(map[string]types.CompanyRecord),
		sessions:  make(map[string][]types.SessionRecord),
	}
}

// LookupAgent returns the directory record of an agent
func (s *MemoryStore) LookupAgent(_ context.Context, companyID, agentHandle string) (types.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.agents[types.AgentKey{CompanyID: companyID, AgentHandle: agentHandle}]
	if !ok {
		return types.AgentRecord{}, fmt.Errorf("agent %s/%s: %w", companyID, agentHandle, types.ErrNotFound)
	}
	return rec, nil
}

// LookupCompany returns the directory record of a company
func (s *MemoryStore) LookupCompany(_ context.Context, companyID string) (types.CompanyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.companies[companyID]
	if !ok {
		return types.CompanyRecord{}, fmt.Errorf("company %s: %w", companyID, types.ErrNotFound)
	}
	return rec, nil
}

// PutAgent creates or replaces an agent record
func (s *MemoryStore) PutAgent(_ context.Context, record types.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[types.AgentKey{CompanyID: record.CompanyID, AgentHandle: record.AgentHandle}] = record
	return nil
}

// PutCompany creates or replaces a company record
func (s *MemoryStore) PutCompany(_ context.Context, record types.CompanyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[record.CompanyID] = record
	return nil
}

// SaveSessionRecord stores record, replacing an earlier record with the same id
func (s *MemoryStore) SaveSessionRecord(_ context.Context, record types.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.sessions[record.CompanyDate]
	for i := range list {
		if list[i].SessionID == record.SessionID {
			list[i] = record
			return nil
		}
	}
	s.sessions[record.CompanyDate] = append(list, record)
	return nil
}

// GetSessionRecords returns one company's records for date (YYYY-MM-DD),
// ordered by session id like a DynamoDB query on the sort key
func (s *MemoryStore) GetSessionRecords(_ context.Context, companyID, date string) ([]types.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.sessions[types.CompanyDateKey(companyID, date)]
	out := make([]types.SessionRecord, len(list))
	copy(out, list)
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// TruncateAll removes all directory and session records
func (s *MemoryStore) TruncateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = make(map[types.AgentKey]types.AgentRecord)
	s.companies = make(map[string]types.CompanyRecord)
	s.sessions = make(map[string][]types.SessionRecord)
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*DynamoDBStore)(nil)
)

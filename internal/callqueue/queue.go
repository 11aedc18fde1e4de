package callqueue

import (
	"sort"
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/types"
)

// CompanyQueue is the FIFO of requests waiting for an agent in one company
type CompanyQueue struct {
	CompanyID string
	Waiting   []*types.QueueEntry
	Routed    int
	Abandoned int
	SL        *SLTracker
}

// Queues holds one FIFO per company. Not safe for concurrent use.
type Queues struct {
	byCompany map[string]*CompanyQueue
	slTarget  int
	slSeconds int
}

// NewQueues creates an empty queue set; service level is tracked against
// slTarget percent answered within slSeconds.
func NewQueues(slTarget, slSeconds int) *Queues {
	return &Queues{
		byCompany: make(map[string]*CompanyQueue),
		slTarget:  slTarget,
		slSeconds: slSeconds,
	}
}

func (qs *Queues) queue(companyID string) *CompanyQueue {
	q, ok := qs.byCompany[companyID]
	if !ok {
		q = &CompanyQueue{
			CompanyID: companyID,
			SL:        NewSLTracker(qs.slTarget, qs.slSeconds),
		}
		qs.byCompany[companyID] = q
	}
	return q
}

// Enqueue appends entry and returns its 1-based position
func (qs *Queues) Enqueue(companyID string, entry *types.QueueEntry) int {
	q := qs.queue(companyID)
	q.Waiting = append(q.Waiting, entry)
	return len(q.Waiting)
}

// EnqueueFront puts entry ahead of everything else; used for requests that
// were already waiting before an invitation failed.
func (qs *Queues) EnqueueFront(companyID string, entry *types.QueueEntry) int {
	q := qs.queue(companyID)
	q.Waiting = append([]*types.QueueEntry{entry}, q.Waiting...)
	return 1
}

// Peek returns the oldest waiting entry without removing it
func (qs *Queues) Peek(companyID string) (*types.QueueEntry, bool) {
	q, ok := qs.byCompany[companyID]
	if !ok || len(q.Waiting) == 0 {
		return nil, false
	}
	return q.Waiting[0], true
}

// DequeueFirst removes and returns the oldest waiting entry
func (qs *Queues) DequeueFirst(companyID string) (*types.QueueEntry, bool) {
	q, ok := qs.byCompany[companyID]
	if !ok || len(q.Waiting) == 0 {
		return nil, false
	}
	entry := q.Waiting[0]
	q.Waiting[0] = nil
	q.Waiting = q.Waiting[1:]
	return entry, true
}

// Remove drops a waiting entry by request id
func (qs *Queues) Remove(companyID, requestID string) (*types.QueueEntry, bool) {
	q, ok := qs.byCompany[companyID]
	if !ok {
		return nil, false
	}
	for i, entry := range q.Waiting {
		if entry.RequestID == requestID {
			q.Waiting = append(q.Waiting[:i], q.Waiting[i+1:]...)
			return entry, true
		}
	}
	return nil, false
}

// PositionOf returns the 1-based position of a waiting request
func (qs *Queues) PositionOf(companyID, requestID string) (int, bool) {
	q, ok := qs.byCompany[companyID]
	if !ok {
		return 0, false
	}
	for i, entry := range q.Waiting {
		if entry.RequestID == requestID {
			return i + 1, true
		}
	}
	return 0, false
}

// Len returns the number of waiting entries of a company
func (qs *Queues) Len(companyID string) int {
	if q, ok := qs.byCompany[companyID]; ok {
		return len(q.Waiting)
	}
	return 0
}

// Entries returns the waiting entries of a company in queue order
func (qs *Queues) Entries(companyID string) []*types.QueueEntry {
	q, ok := qs.byCompany[companyID]
	if !ok {
		return nil
	}
	out := make([]*types.QueueEntry, len(q.Waiting))
	copy(out, q.Waiting)
	return out
}

// Companies returns the ids of companies with waiting entries, sorted
func (qs *Queues) Companies() []string {
	ids := make([]string, 0, len(qs.byCompany))
	for id, q := range qs.byCompany {
		if len(q.Waiting) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// RemoveWhere drops every waiting entry matching fn across all companies
func (qs *Queues) RemoveWhere(fn func(*types.QueueEntry) bool) []*types.QueueEntry {
	var removed []*types.QueueEntry
	for _, q := range qs.byCompany {
		kept := q.Waiting[:0]
		for _, entry := range q.Waiting {
			if fn(entry) {
				removed = append(removed, entry)
				continue
			}
			kept = append(kept, entry)
		}
		for i := len(kept); i < len(q.Waiting); i++ {
			q.Waiting[i] = nil
		}
		q.Waiting = kept
	}
	return removed
}

// RecordRouted counts a request leaving the queue towards an agent
func (qs *Queues) RecordRouted(companyID string, waited time.Duration) {
	q := qs.queue(companyID)
	q.Routed++
	q.SL.RecordAnswer(waited.Seconds())
}

// RecordAbandoned counts requests that left the queue without an agent
func (qs *Queues) RecordAbandoned(companyID string, n int) {
	qs.queue(companyID).Abandoned += n
}

// Total returns the number of waiting entries across all companies
func (qs *Queues) Total() int {
	total := 0
	for _, q := range qs.byCompany {
		total += len(q.Waiting)
	}
	return total
}

// QueueSnapshot summarises one company queue for operators
type QueueSnapshot struct {
	CompanyID       string             `json:"companyId"`
	WaitingCount    int                `json:"waitingCount"`
	RoutedCount     int                `json:"routedCount"`
	AbandonedCount  int                `json:"abandonedCount"`
	LongestWaitSecs float64            `json:"longestWaitSecs"`
	ServiceLevel    ServiceLevel       `json:"serviceLevel"`
	Entries         []types.QueueEntry `json:"entries"`
}

// Snapshot returns the current state of a company queue
func (qs *Queues) Snapshot(companyID string, now time.Time) QueueSnapshot {
	q := qs.queue(companyID)
	snap := QueueSnapshot{
		CompanyID:      companyID,
		WaitingCount:   len(q.Waiting),
		RoutedCount:    q.Routed,
		AbandonedCount: q.Abandoned,
		ServiceLevel:   q.SL.Snapshot(),
		Entries:        make([]types.QueueEntry, 0, len(q.Waiting)),
	}
	if len(q.Waiting) > 0 {
		snap.LongestWaitSecs = now.Sub(q.Waiting[0].RequestedAt).Seconds()
	}
	for _, entry := range q.Waiting {
		snap.Entries = append(snap.Entries, *entry)
	}
	return snap
}

package health

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Record is a raw provider event as persisted.
type Record struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Kind       DataKind        `json:"kind"`
	Source     string          `json:"source,omitempty"`
	ItemID     string          `json:"itemId,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Payload    json.RawMessage `json:"payload"`
}

// RecordStore persists raw records. Save must upsert by (Record.UserID, Record.ID);
// provider ids are only unique per user.
type RecordStore interface {
	Save(ctx context.Context, record Record) error
}

// Profile is a user's derived scores.
type Profile struct {
	UserID    string    `json:"userId"`
	Activity  *int      `json:"activity,omitempty"`
	Sleep     *int      `json:"sleep,omitempty"`
	Stress    *int      `json:"stress,omitempty"`
	Energy    *int      `json:"energy,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Merge overlays the non-nil scores.
func (p *Profile) Merge(s Scores) {
	if s.Activity != nil {
		p.Activity = intPtr(*s.Activity)
	}
	if s.Sleep != nil {
		p.Sleep = intPtr(*s.Sleep)
	}
	if s.Stress != nil {
		p.Stress = intPtr(*s.Stress)
	}
	if s.Energy != nil {
		p.Energy = intPtr(*s.Energy)
	}
}

// ProfileStore holds derived profiles.
type ProfileStore interface {
	UpdateScores(ctx context.Context, userID string, scores Scores) (Profile, error)
	LookupProfile(ctx context.Context, userID string) (Profile, bool, error)
}

// MemoryRecords is an in-process RecordStore.
type MemoryRecords struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{records: make(map[string]Record)}
}

func recordKey(userID, id string) string {
	return userID + "\x00" + id
}

func (m *MemoryRecords) Save(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey(record.UserID, record.ID)] = record
	return nil
}

// Get returns the stored record for the user's id.
func (m *MemoryRecords) Get(userID, id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[recordKey(userID, id)]
	return r, ok
}

// Len returns the number of distinct records.
func (m *MemoryRecords) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// MemoryProfiles is an in-process ProfileStore.
type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{profiles: make(map[string]Profile)}
}

func (m *MemoryProfiles) UpdateScores(_ context.Context, userID string, scores Scores) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		p = Profile{UserID: userID}
	}
	p.Merge(scores)
	p.UpdatedAt = time.Now().UTC()
	m.profiles[userID] = p
	return p, nil
}

func (m *MemoryProfiles) LookupProfile(_ context.Context, userID string) (Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	return p, ok, nil
}

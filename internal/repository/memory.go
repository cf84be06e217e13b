package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"slack_scheduler/internal/models"

	"github.com/google/uuid"
)

// MemoryJobStore keeps jobs in a map guarded by one mutex, which is what makes
// ClaimNextDue atomic. Used by tests and STORE_DRIVER=memory.
type MemoryJobStore struct {
	mu       sync.Mutex
	jobs     map[string]models.ScheduledMessage
	leaseTTL time.Duration
	now      func() time.Time
}

func NewMemoryJobStore(leaseTTL time.Duration) *MemoryJobStore {
	if leaseTTL < 0 {
		leaseTTL = 0
	}
	return &MemoryJobStore{
		jobs:     make(map[string]models.ScheduledMessage),
		leaseTTL: leaseTTL,
		now:      time.Now,
	}
}

func (s *MemoryJobStore) Insert(_ context.Context, msg *models.ScheduledMessage) (string, error) {
	if err := validateInsert(msg); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = uuid.NewString()
	msg.SendAt = msg.SendAt.UTC()
	msg.Locked = false
	msg.LockedUntil = nil
	msg.CreatedAt = s.now().UTC()
	s.jobs[msg.ID] = *msg
	return msg.ID, nil
}

func (s *MemoryJobStore) ClaimNextDue(_ context.Context, now time.Time) (models.ScheduledMessage, bool, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	// lease считается от момента claim, а не от начала тика
	clock := s.now().UTC()

	var (
		best  models.ScheduledMessage
		found bool
	)
	for _, m := range s.jobs {
		if !m.Claimable(now, clock) {
			continue
		}
		if !found || m.SendAt.Before(best.SendAt) || (m.SendAt.Equal(best.SendAt) && m.ID < best.ID) {
			best = m
			found = true
		}
	}
	if !found {
		return models.ScheduledMessage{}, false, nil
	}

	best.Locked = true
	best.LockedUntil = nil
	if s.leaseTTL > 0 {
		t := clock.Add(s.leaseTTL)
		best.LockedUntil = &t
	}
	s.jobs[best.ID] = best
	return best, true, nil
}

func (s *MemoryJobStore) MarkDelivered(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryJobStore) Unlock(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.jobs[id]
	if !ok {
		return nil
	}
	m.Locked = false
	m.LockedUntil = nil
	s.jobs[id] = m
	return nil
}

// Release unlocks a job only while it is still under the claim that returned it.
func (s *MemoryJobStore) Release(_ context.Context, claimed models.ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.jobs[claimed.ID]
	if !ok || !m.HeldBy(claimed) {
		return nil
	}
	m.Locked = false
	m.LockedUntil = nil
	s.jobs[m.ID] = m
	return nil
}

func (s *MemoryJobStore) ListUpcoming(_ context.Context, workspace string, since time.Time) ([]models.ScheduledMessage, error) {
	if strings.TrimSpace(workspace) == "" {
		return nil, fmt.Errorf("workspace is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]models.ScheduledMessage, 0)
	for _, m := range s.jobs {
		if m.Workspace == workspace && !m.SendAt.Before(since) {
			res = append(res, m)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].SendAt.Equal(res[j].SendAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].SendAt.Before(res[j].SendAt)
	})
	return res, nil
}

func (s *MemoryJobStore) Cancel(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	return true, nil
}

func (s *MemoryJobStore) Stats(_ context.Context, now time.Time) (models.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st models.JobStats
	for _, m := range s.jobs {
		if m.Locked {
			st.Locked++
			continue
		}
		st.Pending++
		if m.Due(now) {
			st.Overdue++
		}
	}
	return st, nil
}

// SetClock replaces the clock used for CreatedAt and leases.
func (s *MemoryJobStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get returns a copy of the stored job.
func (s *MemoryJobStore) Get(id string) (models.ScheduledMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.jobs[id]
	return m, ok
}

func (s *MemoryJobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]models.Credential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]models.Credential)}
}

func (s *MemoryCredentialStore) Resolve(_ context.Context, workspace string) (models.Credential, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[workspace]
	return c, ok, nil
}

func (s *MemoryCredentialStore) Upsert(_ context.Context, c models.Credential) error {
	if strings.TrimSpace(c.Workspace) == "" || strings.TrimSpace(c.AccessToken) == "" {
		return ErrInvalidCredential
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.UpdatedAt = time.Now().UTC()
	s.creds[c.Workspace] = c
	return nil
}

// Package queuetest provides an in-memory queue.Repository that applies the
// same guarded transitions as the Postgres repository.
package queuetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/emergency-dispatch/internal/queue"
)

type Memory struct {
	mu    sync.Mutex
	items map[uuid.UUID]queue.Item

	// AfterAccept runs after a successful Accept write, outside the lock.
	AfterAccept func(item queue.Item)
	// FailAccept makes the next Accept return this error without writing.
	FailAccept error
}

func NewMemory() *Memory {
	return &Memory{items: make(map[uuid.UUID]queue.Item)}
}

// Put stores item as is.
func (m *Memory) Put(item queue.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
}

// Snapshot returns the stored copy of id.
func (m *Memory) Snapshot(id uuid.UUID) (queue.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	return item, ok
}

// SetPaymentStatus stands in for the payment webhook.
func (m *Memory) SetPaymentStatus(id uuid.UUID, status queue.PaymentStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[id]
	item.PaymentStatus = status
	m.items[id] = item
}

func (m *Memory) CreateItems(_ context.Context, items []queue.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		if item.UpdatedAt.IsZero() {
			item.UpdatedAt = item.QueuedAt
		}
		m.items[item.ID] = item
	}
	return nil
}

func (m *Memory) GetItem(_ context.Context, id uuid.UUID) (*queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, queue.ErrItemNotFound
	}
	return &item, nil
}

func (m *Memory) List(_ context.Context, scope queue.Scope, limit, offset int) ([]queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []queue.Item
	for _, item := range m.items {
		if scope.Includes(&item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].QueuedAt.Equal(out[b].QueuedAt) {
			return out[a].ID.String() < out[b].ID.String()
		}
		return out[a].QueuedAt.After(out[b].QueuedAt)
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) HasOpenEmergency(_ context.Context, patientID uuid.UUID, doctorIDs []uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.PatientID != patientID || item.EntryType != queue.EntryEmergency || !item.Open() {
			continue
		}
		for _, d := range doctorIDs {
			if item.DoctorID == d {
				return true, nil
			}
		}
	}
	return false, nil
}

// update applies fn to id under the lock when guard holds.
func (m *Memory) update(id uuid.UUID, guard func(queue.Item) bool, fn func(*queue.Item)) (*queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || !guard(item) {
		return nil, queue.ErrStateChanged
	}
	fn(&item)
	m.items[id] = item
	return &item, nil
}

func (m *Memory) Accept(_ context.Context, id uuid.UUID, p queue.AcceptParams) (*queue.Item, error) {
	m.mu.Lock()
	if err := m.FailAccept; err != nil {
		m.FailAccept = nil
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	item, err := m.update(id, func(i queue.Item) bool {
		return i.Status == queue.StatusQueued &&
			i.EntryType == queue.EntryEmergency &&
			i.PaymentStatus == queue.PaymentNotStarted &&
			!p.At.After(i.ExpiresAt)
	}, func(i *queue.Item) {
		at, by, payBy := p.At, p.DoctorID, p.PaymentExpiresAt
		i.Status = queue.StatusAccepted
		i.AcceptedAt = &at
		i.AcceptedBy = &by
		i.PaymentStatus = queue.PaymentPending
		i.PaymentExpiresAt = &payBy
		i.UpdatedAt = at
	})
	if err == nil && m.AfterAccept != nil {
		m.AfterAccept(*item)
	}
	return item, err
}

func (m *Memory) Reject(_ context.Context, id, by uuid.UUID, at time.Time) (*queue.Item, error) {
	return m.update(id, queued, func(i *queue.Item) {
		i.Status = queue.StatusRejected
		i.RejectedAt = &at
		i.RejectedBy = &by
		i.UpdatedAt = at
	})
}

func (m *Memory) Cancel(_ context.Context, id, by uuid.UUID, at time.Time) (*queue.Item, error) {
	return m.update(id, queued, func(i *queue.Item) {
		i.Status = queue.StatusCancelled
		i.CancelledAt = &at
		i.CancelledBy = &by
		i.UpdatedAt = at
	})
}

func (m *Memory) CancelQueued(_ context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for _, id := range ids {
		item, ok := m.items[id]
		if !ok || item.Status != queue.StatusQueued {
			continue
		}
		item.Status = queue.StatusCancelled
		item.CancelledAt = &at
		item.UpdatedAt = at
		m.items[id] = item
		out = append(out, id)
	}
	return out, nil
}

func (m *Memory) MarkClosed(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if ok && item.ClosedAt == nil {
		item.ClosedAt = &at
		item.UpdatedAt = at
		m.items[id] = item
	}
	return nil
}

func (m *Memory) ExpireItem(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	_, err := m.update(id, func(i queue.Item) bool { return i.QueueWindowLapsed(now) }, func(i *queue.Item) {
		i.Status = queue.StatusExpired
		i.UpdatedAt = now
	})
	return err == nil, nil
}

func (m *Memory) ExpirePayment(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	_, err := m.update(id, func(i queue.Item) bool { return i.PaymentWindowLapsed(now) }, func(i *queue.Item) {
		i.PaymentStatus = queue.PaymentExpired
		i.UpdatedAt = now
	})
	return err == nil, nil
}

func (m *Memory) SweepExpired(_ context.Context, scope queue.Scope, now time.Time) (queue.SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res queue.SweepResult
	for id, item := range m.items {
		if !scope.Includes(&item) {
			continue
		}
		if item.QueueWindowLapsed(now) {
			item.Status = queue.StatusExpired
			item.UpdatedAt = now
			res.Items++
		}
		if item.PaymentWindowLapsed(now) {
			item.PaymentStatus = queue.PaymentExpired
			item.UpdatedAt = now
			res.Payments++
		}
		m.items[id] = item
	}
	return res, nil
}

func queued(i queue.Item) bool {
	return i.Status == queue.StatusQueued
}

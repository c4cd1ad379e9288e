package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Memory implements Store in process. It exists for deployments without
// redis and for tests; expiry is enforced lazily on access, so idle keys
// may linger but are never served stale.
type Memory struct {
	mu     sync.Mutex
	values map[string]memoryValue
	hashes map[string]*memoryHash
	stamps map[string]*memoryStamps
	sets   map[string]*memorySet

	now func() time.Time
}

type memoryValue struct {
	value   string
	expires time.Time
}

type memoryHash struct {
	fields  map[string]int64
	expires time.Time
}

type memoryStamps struct {
	at      []time.Time
	expires time.Time
}

type memorySet struct {
	members map[string]struct{}
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]memoryValue),
		hashes: make(map[string]*memoryHash),
		stamps: make(map[string]*memoryStamps),
		sets:   make(map[string]*memorySet),
		now:    time.Now,
	}
}

func expired(deadline, now time.Time) bool {
	return !deadline.IsZero() && !deadline.After(now)
}

func deadline(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok || expired(v.expires, m.now()) {
		delete(m.values, key)
		return "", false, nil
	}
	return v.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = memoryValue{value: value, expires: deadline(m.now(), ttl)}
	return nil
}

func (m *Memory) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if v, ok := m.values[key]; ok && !expired(v.expires, now) {
		return false, nil
	}
	m.values[key] = memoryValue{value: value, expires: deadline(now, ttl)}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.hashes, key)
	delete(m.stamps, key)
	delete(m.sets, key)
	return nil
}

func (m *Memory) IncrementField(_ context.Context, key, field string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	h, ok := m.hashes[key]
	if !ok || expired(h.expires, now) {
		h = &memoryHash{fields: make(map[string]int64)}
		m.hashes[key] = h
	}
	h.fields[field] += delta
	h.expires = deadline(now, ttl)
	return h.fields[field], nil
}

func (m *Memory) Fields(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	h, ok := m.hashes[key]
	if !ok || expired(h.expires, m.now()) {
		delete(m.hashes, key)
		return out, nil
	}
	for field, n := range h.fields {
		out[field] = strconv.FormatInt(n, 10)
	}
	return out, nil
}

func (m *Memory) RecordStamp(_ context.Context, key string, at time.Time, retention time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stamps[key]
	if !ok || expired(s.expires, m.now()) {
		s = &memoryStamps{}
		m.stamps[key] = s
	}
	cutoff := at.Add(-retention)
	kept := s.at[:0]
	for _, t := range s.at {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.at = append(kept, at)
	s.expires = deadline(at, retention)
	return nil
}

func (m *Memory) CountStampsSince(_ context.Context, key string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stamps[key]
	if !ok || expired(s.expires, m.now()) {
		delete(m.stamps, key)
		return 0, nil
	}
	n := 0
	for _, t := range s.at {
		if !t.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) AddToSet(_ context.Context, key, member string, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s, ok := m.sets[key]
	if !ok || expired(s.expires, now) {
		s = &memorySet{members: make(map[string]struct{})}
		m.sets[key] = s
	}
	s.members[member] = struct{}{}
	s.expires = deadline(now, ttl)
	return len(s.members), nil
}

func (m *Memory) SetSize(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok || expired(s.expires, m.now()) {
		delete(m.sets, key)
		return 0, nil
	}
	return len(s.members), nil
}

package notify

import (
	"sort"
	"sync"

	"github.com/garland/internal/model"
)

// Feed is the single underlying notification set every surface projects from.
// Records are keyed by id (delivery is at-least-once, so Upsert dedupes) and
// mutated in place on read events; nothing is ever deleted.
type Feed struct {
	mu   sync.RWMutex
	byID map[string]*model.Notification
}

func NewFeed() *Feed {
	return &Feed{byID: make(map[string]*model.Notification)}
}

// Upsert inserts a notification or, when the id is already known, keeps the
// existing record (a duplicate delivery may still carry a newer read flag).
// Returns true when the notification is new.
func (f *Feed) Upsert(n model.Notification) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.byID[n.ID]; ok {
		if n.IsRead {
			cur.IsRead = true
		}
		return false
	}
	cp := n
	f.byID[n.ID] = &cp
	return true
}

// Merge applies a freshly fetched list: new ids are added, known ids take the
// server's read flag. Existing records are updated in place, never replaced.
func (f *Feed) Merge(list []model.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range list {
		if cur, ok := f.byID[n.ID]; ok {
			cur.IsRead = n.IsRead
			continue
		}
		cp := n
		f.byID[n.ID] = &cp
	}
}

// MarkRead flips one record to read. Unknown ids are ignored.
func (f *Feed) MarkRead(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.byID[id]; ok {
		cur.IsRead = true
	}
}

// MarkAllRead flips every record to read.
func (f *Feed) MarkAllRead() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.byID {
		n.IsRead = true
	}
}

// List returns a copy of all records sorted by CreatedAt descending.
func (f *Feed) List() []model.Notification {
	f.mu.RLock()
	out := make([]model.Notification, 0, len(f.byID))
	for _, n := range f.byID {
		out = append(out, *n)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Unread counts records with IsRead == false.
func (f *Feed) Unread() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, rec := range f.byID {
		if !rec.IsRead {
			n++
		}
	}
	return n
}

// Len returns the total number of records.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.byID)
}

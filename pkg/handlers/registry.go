package handlers

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type registration struct {
	id      uuid.UUID
	handler Handler
}

// registrySnapshot is never mutated after it is published.
type registrySnapshot struct {
	byCategory map[Category][]registration
}

func (s *registrySnapshot) handlers(category Category) []registration {
	return s.byCategory[category]
}

// Registry holds handlers by category. Writers copy the affected list and publish
// a new snapshot, so a dispatch keeps whatever snapshot it loaded at its start.
type Registry struct {
	mut_write sync.Mutex
	current   atomic.Pointer[registrySnapshot]
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&registrySnapshot{byCategory: map[Category][]registration{}})
	return r
}

// Registration identifies one registered handler.
type Registration struct {
	ID       uuid.UUID
	Category Category

	registry *Registry
}

func (r Registration) Remove() bool {
	if r.registry == nil {
		return false
	}
	return r.registry.remove(r.Category, func(reg registration) bool {
		return reg.id == r.ID
	})
}

func (r *Registry) snapshot() *registrySnapshot {
	return r.current.Load()
}

// Register appends h to category. Handlers run in registration order.
func (r *Registry) Register(category Category, h Handler) Registration {
	r.mut_write.Lock()
	defer r.mut_write.Unlock()

	id := uuid.New()
	prev := r.current.Load()
	next := copySnapshot(prev)

	list := prev.byCategory[category]
	updated := make([]registration, len(list), len(list)+1)
	copy(updated, list)
	next.byCategory[category] = append(updated, registration{id: id, handler: h})

	r.current.Store(next)
	return Registration{ID: id, Category: category, registry: r}
}

// Unregister removes the first registration of h under category. h may be the
// value originally passed to AddMessageHandler.
func (r *Registry) Unregister(category Category, h any) bool {
	return r.remove(category, func(reg registration) bool {
		return sameHandler(handlerSource(reg.handler), h)
	})
}

func (r *Registry) remove(category Category, match func(registration) bool) bool {
	r.mut_write.Lock()
	defer r.mut_write.Unlock()

	prev := r.current.Load()
	list := prev.byCategory[category]
	for i, reg := range list {
		if !match(reg) {
			continue
		}

		next := copySnapshot(prev)
		updated := make([]registration, 0, len(list)-1)
		updated = append(updated, list[:i]...)
		updated = append(updated, list[i+1:]...)
		if len(updated) == 0 {
			delete(next.byCategory, category)
		} else {
			next.byCategory[category] = updated
		}

		r.current.Store(next)
		return true
	}
	return false
}

// AddMessageHandler registers h under every message capability it implements.
func (r *Registry) AddMessageHandler(h any) ([]Registration, error) {
	var regs []Registration
	if c, ok := h.(MessageCreateHandler); ok {
		regs = append(regs, r.Register(Category_MessageCreate, adaptMessageCreate(c)))
	}
	if u, ok := h.(MessageUpdateHandler); ok {
		regs = append(regs, r.Register(Category_MessageUpdate, adaptMessageUpdate(u)))
	}
	if d, ok := h.(MessageDeleteHandler); ok {
		regs = append(regs, r.Register(Category_MessageDelete, adaptMessageDelete(d)))
	}

	if len(regs) == 0 {
		return nil, fmt.Errorf("%T implements no message handler capability", h)
	}
	return regs, nil
}

// RemoveMessageHandler undoes AddMessageHandler for h.
func (r *Registry) RemoveMessageHandler(h any) int {
	removed := 0
	for _, category := range []Category{Category_MessageCreate, Category_MessageUpdate, Category_MessageDelete} {
		if r.Unregister(category, h) {
			removed++
		}
	}
	return removed
}

func (r *Registry) Len(category Category) int {
	return len(r.snapshot().handlers(category))
}

func copySnapshot(s *registrySnapshot) *registrySnapshot {
	next := &registrySnapshot{byCategory: make(map[Category][]registration, len(s.byCategory)+1)}
	for category, list := range s.byCategory {
		next.byCategory[category] = list
	}
	return next
}

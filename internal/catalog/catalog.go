// Package catalog declares the built-in business modules of a restaurant
// operations application and their dependencies.
package catalog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/opscore/registry"
)

// Module ids of the built-in catalog.
const (
	Communication  = "communication"
	Chat           = "chat"
	UnreadMessages = "unread-messages"
	Inventory      = "inventory"
	Checklists     = "checklists"
	CashRegister   = "cash-register"
	Schedule       = "schedule"
	Reports        = "reports"
)

// Feature is the instance produced by catalog factories.
type Feature struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	LoadedAt time.Time `json:"loadedAt"`

	closed atomic.Bool
}

// Cleanup marks the feature as released.
func (f *Feature) Cleanup() error {
	f.closed.Store(true)
	return nil
}

// Closed reports whether Cleanup ran.
func (f *Feature) Closed() bool {
	return f.closed.Load()
}

type entry struct {
	id       string
	name     string
	priority int
	lazy     bool
	deps     []string
}

var entries = []entry{
	{id: Communication, name: "Communication", priority: 9},
	{id: Chat, name: "Team Chat", priority: 8, lazy: true, deps: []string{Communication}},
	{id: UnreadMessages, name: "Unread Messages", priority: 6, lazy: true, deps: []string{Chat}},
	{id: Inventory, name: "Inventory", priority: 8, lazy: true},
	{id: Checklists, name: "Checklists", priority: 6, lazy: true},
	{id: CashRegister, name: "Cash Register", priority: 7, lazy: true},
	{id: Schedule, name: "Staff Schedule", priority: 5, lazy: true},
	{id: Reports, name: "Reports", priority: 3, lazy: true, deps: []string{Inventory, CashRegister}},
}

// Version is reported by every catalog module.
const Version = "1.0.0"

// Descriptors returns the catalog in registration order. Dependencies
// always precede their dependents.
func Descriptors() []registry.Descriptor {
	descs := make([]registry.Descriptor, 0, len(entries))
	for _, e := range entries {
		descs = append(descs, registry.Descriptor{
			ID:           e.id,
			Name:         e.name,
			Version:      Version,
			Dependencies: append([]string(nil), e.deps...),
			Lazy:         e.lazy,
			Priority:     e.priority,
			Factory:      factory(e),
		})
	}
	return descs
}

func factory(e entry) registry.Factory {
	return func(ctx context.Context) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Feature{ID: e.id, Name: e.name, Version: Version, LoadedAt: time.Now()}, nil
	}
}

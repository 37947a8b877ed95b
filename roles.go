package workgate

import (
	"context"
	"fmt"
	"sync"
)

// RoleCatalog caches role name/id pairs read from a RoleStore. Once a pair is
// cached it never changes; a store answer that contradicts it is an error.
type RoleCatalog struct {
	store RoleStore

	mu     sync.RWMutex
	byID   map[int64]string
	byName map[string]int64
}

func NewRoleCatalog(store RoleStore) *RoleCatalog {
	return &RoleCatalog{
		store:  store,
		byID:   make(map[int64]string),
		byName: make(map[string]int64),
	}
}

// Load reads every role from the store.
func (c *RoleCatalog) Load(ctx context.Context) error {
	roles, err := c.store.ListRoles(ctx)
	if err != nil {
		return internalErr(err)
	}
	for id, name := range roles {
		if err := c.remember(id, name); err != nil {
			return err
		}
	}
	return nil
}

// Name resolves a role id, consulting the store on a cache miss.
func (c *RoleCatalog) Name(ctx context.Context, id int64) (string, error) {
	c.mu.RLock()
	name, ok := c.byID[id]
	c.mu.RUnlock()
	if ok {
		return name, nil
	}

	name, err := c.store.RoleName(ctx, id)
	if err != nil {
		return "", err
	}
	if err := c.remember(id, name); err != nil {
		return "", err
	}
	return name, nil
}

// ID resolves a role name, consulting the store on a cache miss.
func (c *RoleCatalog) ID(ctx context.Context, name string) (int64, error) {
	c.mu.RLock()
	id, ok := c.byName[name]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := c.store.RoleID(ctx, name)
	if err != nil {
		return 0, err
	}
	if err := c.remember(id, name); err != nil {
		return 0, err
	}
	return id, nil
}

func (c *RoleCatalog) remember(id int64, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.byID[id]; ok && prev != name {
		return fmt.Errorf("%w: role id %d already bound to %q, store reports %q", ErrInternal, id, prev, name)
	}
	if prev, ok := c.byName[name]; ok && prev != id {
		return fmt.Errorf("%w: role %q already bound to id %d, store reports %d", ErrInternal, name, prev, id)
	}
	c.byID[id] = name
	c.byName[name] = id
	return nil
}

package role

import (
	"sort"
	"sync"

	"github.com/sephiroth74/go_permission_controller/types"
)

// HolderStore keeps the holders of every role, per user
type HolderStore interface {
	Holders(roleName string, user types.UserHandle) []string
	AddHolder(roleName string, packageName string, user types.UserHandle) bool
	RemoveHolder(roleName string, packageName string, user types.UserHandle) bool
	// RolesHeldBy returns the names of the roles held by the package
	RolesHeldBy(packageName string, user types.UserHandle) []string
}

type holderKey struct {
	role string
	user types.UserHandle
}

type MemoryHolderStore struct {
	mu      sync.RWMutex
	holders map[holderKey][]string
}

func NewMemoryHolderStore() *MemoryHolderStore {
	return &MemoryHolderStore{holders: make(map[holderKey][]string)}
}

func (s *MemoryHolderStore) Holders(roleName string, user types.UserHandle) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.holders[holderKey{roleName, user}]...)
}

func (s *MemoryHolderStore) AddHolder(roleName string, packageName string, user types.UserHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := holderKey{roleName, user}
	for _, h := range s.holders[key] {
		if h == packageName {
			return false
		}
	}
	s.holders[key] = append(s.holders[key], packageName)
	return true
}

func (s *MemoryHolderStore) RemoveHolder(roleName string, packageName string, user types.UserHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := holderKey{roleName, user}
	holders := s.holders[key]
	for i, h := range holders {
		if h == packageName {
			s.holders[key] = append(holders[:i:i], holders[i+1:]...)
			return true
		}
	}
	return false
}

func (s *MemoryHolderStore) RolesHeldBy(packageName string, user types.UserHandle) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var roles []string
	for key, holders := range s.holders {
		if key.user != user {
			continue
		}
		for _, h := range holders {
			if h == packageName {
				roles = append(roles, key.role)
				break
			}
		}
	}
	sort.Strings(roles)
	return roles
}

package core

import (
	"sort"
	"strings"
	"sync"
)

// MountPoints maps request paths to media factories.
type MountPoints struct {
	mutex     sync.RWMutex
	factories map[string]*MediaFactory
}

// NewMountPoints allocates a MountPoints.
func NewMountPoints() *MountPoints {
	return &MountPoints{
		factories: make(map[string]*MediaFactory),
	}
}

func normalizePath(path string) string {
	path = "/" + strings.Trim(path, "/")
	return path
}

// AddFactory attaches a factory to a path.
// An existing factory with the same path is replaced and returned.
func (m *MountPoints) AddFactory(path string, f *MediaFactory) *MediaFactory {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	path = normalizePath(path)
	prev := m.factories[path]
	m.factories[path] = f
	return prev
}

// RemoveFactory detaches the factory of a path and returns it.
func (m *MountPoints) RemoveFactory(path string) *MediaFactory {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	path = normalizePath(path)
	f, ok := m.factories[path]
	if !ok {
		return nil
	}

	delete(m.factories, path)
	return f
}

// Match finds the factory that serves a path.
// The longest registered path wins, and a registered path matches
// only on a slash boundary, so /test serves /test/extra but not /testing.
func (m *MountPoints) Match(path string) (*MediaFactory, string, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	path = normalizePath(path)

	for {
		if f, ok := m.factories[path]; ok {
			return f, path, true
		}

		if path == "/" {
			return nil, "", false
		}

		i := strings.LastIndexByte(path, '/')
		if i == 0 {
			path = "/"
		} else {
			path = path[:i]
		}
	}
}

// List returns the registered paths, sorted.
func (m *MountPoints) List() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ret := make([]string, 0, len(m.factories))
	for path := range m.factories {
		ret = append(ret, path)
	}
	sort.Strings(ret)
	return ret
}

// Get returns the factory registered with exactly the given path.
func (m *MountPoints) Get(path string) (*MediaFactory, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	f, ok := m.factories[normalizePath(path)]
	return f, ok
}

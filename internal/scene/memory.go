package scene

import (
	"context"
	"fmt"
	"sync"
)

// Call records one SetItemEnabled invocation
type Call struct {
	Scene   string
	ID      int
	Enabled bool
}

// MemoryProvider is an in-process scene graph for dry runs and tests
type MemoryProvider struct {
	mu      sync.Mutex
	current string
	scenes  map[string][]Item
	calls   []Call
	lists   int
	closed  bool

	listErr error
	setErr  map[int]error
}

// NewMemoryProvider creates a provider whose current scene is current
func NewMemoryProvider(current string) *MemoryProvider {
	return &MemoryProvider{
		current: current,
		scenes:  make(map[string][]Item),
		setErr:  make(map[int]error),
	}
}

// AddItem appends an item to a scene and returns its ID
func (m *MemoryProvider) AddItem(scene, source string, enabled bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := 1
	for _, items := range m.scenes {
		id += len(items)
	}
	m.scenes[scene] = append(m.scenes[scene], Item{ID: id, SourceName: source, Enabled: enabled})
	return id
}

// SetCurrentScene switches the active scene
func (m *MemoryProvider) SetCurrentScene(scene string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = scene
}

// FailList makes SceneItems fail with err; nil clears it
func (m *MemoryProvider) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FailItem makes SetItemEnabled fail for one item ID; nil clears it
func (m *MemoryProvider) FailItem(id int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.setErr, id)
		return
	}
	m.setErr[id] = err
}

// CurrentScene returns the active scene
func (m *MemoryProvider) CurrentScene(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", fmt.Errorf("provider closed")
	}
	return m.current, nil
}

// SceneItems lists the items of a scene
func (m *MemoryProvider) SceneItems(ctx context.Context, scene string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists++
	if m.listErr != nil {
		return nil, m.listErr
	}

	items, ok := m.scenes[scene]
	if !ok {
		return nil, fmt.Errorf("no source was found by the name of %q", scene)
	}
	return append([]Item(nil), items...), nil
}

// SetItemEnabled shows or hides an item
func (m *MemoryProvider) SetItemEnabled(ctx context.Context, scene string, id int, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Scene: scene, ID: id, Enabled: enabled})
	if err := m.setErr[id]; err != nil {
		return err
	}

	items := m.scenes[scene]
	for i := range items {
		if items[i].ID == id {
			items[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("no scene item %d in %q", id, scene)
}

// Close ends the session
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns every SetItemEnabled invocation so far
func (m *MemoryProvider) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Lists returns how many times SceneItems was called
func (m *MemoryProvider) Lists() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists
}

// Enabled reports the visibility of an item
func (m *MemoryProvider) Enabled(scene string, id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, it := range m.scenes[scene] {
		if it.ID == id {
			return it.Enabled
		}
	}
	return false
}

// Closed reports whether Close was called
func (m *MemoryProvider) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

package routing

import (
	"fmt"
	"sync"

	"github.com/dpup/crm-maps/server/internal/lib/geo"
)

// Registry owns the Renderer and the views it has created, keyed by container id.
// Whatever composes the UI creates one and hands it to each Session.
// A view stays on the renderer until every View call for it has been released.
type Registry struct {
	mu       sync.Mutex
	renderer Renderer
	views    map[string]*registeredView
}

type registeredView struct {
	handle ViewHandle
	refs   int
}

// NewRegistry creates a registry drawing through renderer
func NewRegistry(renderer Renderer) *Registry {
	return &Registry{
		renderer: renderer,
		views:    make(map[string]*registeredView),
	}
}

// Renderer returns the renderer views are drawn with
func (r *Registry) Renderer() Renderer {
	return r.renderer
}

// View returns the view for containerID, creating it on first use.
// An existing view is re-centered instead of being recreated.
func (r *Registry) View(containerID string, center geo.Point, zoom int) (ViewHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.views[containerID]; ok {
		if err := r.renderer.SetView(existing.handle, center, zoom); err != nil {
			return "", fmt.Errorf("failed to re-center view %s: %w", containerID, err)
		}
		existing.refs++
		return existing.handle, nil
	}

	view, err := r.renderer.CreateView(containerID, center, zoom)
	if err != nil {
		return "", fmt.Errorf("failed to create view %s: %w", containerID, err)
	}
	r.views[containerID] = &registeredView{handle: view, refs: 1}
	return view, nil
}

// Release drops one use of the view for containerID. The last release removes
// the view from the renderer. Unknown container ids are ignored.
func (r *Registry) Release(containerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	view, ok := r.views[containerID]
	if !ok {
		return nil
	}
	if view.refs--; view.refs > 0 {
		return nil
	}
	delete(r.views, containerID)
	if err := r.renderer.RemoveView(view.handle); err != nil {
		return fmt.Errorf("failed to remove view %s: %w", containerID, err)
	}
	return nil
}

// Len reports how many views are registered
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

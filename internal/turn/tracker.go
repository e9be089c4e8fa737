package turn

import (
	"sync"

	"kompass/internal/types"
)

// routeTracker remembers the last resolved route per (thread,
// namespace) so the follow-up heuristic can inherit it.
type routeTracker struct {
	mu     sync.RWMutex
	routes map[string]types.Route
}

func newRouteTracker() *routeTracker {
	return &routeTracker{routes: make(map[string]types.Route)}
}

func trackerKey(threadID, namespace string) string {
	return threadID + "\x00" + namespace
}

func (rt *routeTracker) get(threadID, namespace string) types.Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.routes[trackerKey(threadID, namespace)]
}

func (rt *routeTracker) set(threadID, namespace string, r types.Route) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.routes[trackerKey(threadID, namespace)] = r
}

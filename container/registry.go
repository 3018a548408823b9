package container

import "sync"

// ActiveRun is one in-flight execution tracked for cancellation and
// observability.
type ActiveRun struct {
	RunID         string
	ContainerName string
	// DashboardPort is the allocated k6 web-dashboard port, 0 when none.
	DashboardPort int
}

// Registry tracks every in-flight execution by run id so cancellation can
// find the container to kill. One registry per worker process.
type Registry struct {
	mu   sync.Mutex
	runs map[string]ActiveRun
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]ActiveRun)}
}

// Register records an in-flight run. Overwrites any stale entry for the
// same run id.
func (r *Registry) Register(run ActiveRun) {
	r.mu.Lock()
	r.runs[run.RunID] = run
	r.mu.Unlock()
}

// SetDashboardPort attaches a dashboard port to an already registered run.
func (r *Registry) SetDashboardPort(runID string, port int) {
	r.mu.Lock()
	if run, ok := r.runs[runID]; ok {
		run.DashboardPort = port
		r.runs[runID] = run
	}
	r.mu.Unlock()
}

// Lookup returns the active run for runID, if any.
func (r *Registry) Lookup(runID string) (ActiveRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	return run, ok
}

// Deregister removes the run, returning the entry that was present.
func (r *Registry) Deregister(runID string) (ActiveRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	delete(r.runs, runID)
	return run, ok
}

// Len returns the number of in-flight runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

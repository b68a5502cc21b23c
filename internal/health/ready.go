package health

import "sync/atomic"

// Readiness aggregates subsystem readiness (db, HTTP gateway).
type Readiness struct {
	dbReady   atomic.Bool
	httpReady atomic.Bool
}

func New() *Readiness { return &Readiness{} }

func (r *Readiness) SetDBReady(v bool)   { r.dbReady.Store(v) }
func (r *Readiness) SetHTTPReady(v bool) { r.httpReady.Store(v) }

// Ready reports true once every subsystem is up.
func (r *Readiness) Ready() bool {
	return r.dbReady.Load() && r.httpReady.Load()
}

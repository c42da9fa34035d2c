package worker

import (
	"context"

	"github.com/hibiken/asynq"
)

// Mux registers background capture handlers by task type. It wraps
// asynq.ServeMux so the capture packages never import asynq's server API
// directly.
type Mux struct{ mux *asynq.ServeMux }

func NewMux() *Mux { return &Mux{mux: asynq.NewServeMux()} }

// HandleFunc binds a task type to its handler.
func (m *Mux) HandleFunc(taskType string, h func(ctx context.Context, task *asynq.Task) error) {
	m.mux.HandleFunc(taskType, h)
}

// Mux exposes the underlying ServeMux for the asynq server.
func (m *Mux) Mux() *asynq.ServeMux { return m.mux }

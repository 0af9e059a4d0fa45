package cron

import (
	"context"
	"fmt"
)

// Job is one unit of periodic work. Run must be safe to repeat: a cycle can be
// cut short by a lost lock and the next leader will run it again.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry keeps jobs in registration order and refuses duplicate names so
// log lines and metric labels stay unambiguous.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

func NewRegistry(jobs ...Job) (*Registry, error) {
	r := &Registry{names: make(map[string]struct{}, len(jobs))}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("job %T has no name", job)
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("job %q registered twice", name)
	}
	r.names[name] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}

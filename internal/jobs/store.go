package jobs

import "context"

// Store persists job states for queue restart recovery.
type Store interface {
	LoadJobs(ctx context.Context) ([]*AssemblyJob, error)
	UpsertJob(ctx context.Context, job *AssemblyJob) error
	DeleteJob(ctx context.Context, jobID string) error
}

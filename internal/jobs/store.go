package jobs

import "context"

// Store persists job states so a restarted coordinator can pick up where it
// left off.
type Store interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	UpsertJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, jobID string) error
	// SaveCheckpoint records how many primitives a job has completed.
	SaveCheckpoint(ctx context.Context, jobID string, completed int) error
	// DeleteJobData removes auxiliary data (checkpoints) for a job.
	DeleteJobData(ctx context.Context, jobID string) error
}

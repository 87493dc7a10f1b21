package client

import (
	"context"

	"github.com/kozaktomas/photo-jobs/internal/jobs"
)

type jobCommandRequest struct {
	Command jobs.JobCommand `json:"command"`
	Force   bool            `json:"force"`
}

// Jobs returns the status of every queue.
func (c *Client) Jobs(ctx context.Context) (map[jobs.JobName]jobs.QueueStatus, error) {
	result, err := doGetJSON[map[jobs.JobName]jobs.QueueStatus](ctx, c, "jobs")
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// Job returns the status of one queue.
func (c *Client) Job(ctx context.Context, name jobs.JobName) (jobs.QueueStatus, error) {
	result, err := doGetJSON[jobs.QueueStatus](ctx, c, "jobs/"+string(name))
	if err != nil {
		return jobs.QueueStatus{}, err
	}
	return *result, nil
}

// Command sends a command to one queue and returns its resulting status.
func (c *Client) Command(ctx context.Context, name jobs.JobName, command jobs.JobCommand, force bool) (jobs.QueueStatus, error) {
	result, err := doPutJSON[jobs.QueueStatus](ctx, c, "jobs/"+string(name), jobCommandRequest{Command: command, Force: force})
	if err != nil {
		return jobs.QueueStatus{}, err
	}
	return *result, nil
}

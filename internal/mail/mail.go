package mail

import "context"

// Job is one queued outbound email. Jobs are serialized to JSON and
// carried on the Kafka mail topic.
type Job struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	HTMLBody   string   `json:"html_body"`
}

// Dispatcher submits mail jobs for asynchronous delivery. Submission is
// fire-and-forget: callers never block on, nor observe, delivery outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

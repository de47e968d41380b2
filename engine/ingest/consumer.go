package ingest

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/PapyrusAI/papyrus-mvp/engine/domain"
	"github.com/PapyrusAI/papyrus-mvp/pkg/natsutil"
)

const (
	// JobSubject is the NATS subject for document ingestion jobs.
	JobSubject = "engine.ingest.docs"
	// DLQSubject receives jobs that kept failing.
	DLQSubject = "engine.ingest.dlq"
	// MaxJobRetries before a job is dead-lettered.
	MaxJobRetries = 3
)

// Job asks the worker to ingest one source document. Retries counts prior
// failed attempts; the publisher leaves it zero.
type Job struct {
	Path    string `json:"path"`
	Retries int    `json:"retries,omitempty"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Job   Job    `json:"job"`
	Error string `json:"error"`
}

// PartitionFunc turns a source path into the ordered chunk sequence.
type PartitionFunc func(ctx context.Context, path string) ([]domain.Chunk, error)

// EnqueueJob publishes an ingestion job, propagating the caller's trace
// context into the message.
func EnqueueJob(ctx context.Context, nc *nats.Conn, path string) error {
	return natsutil.Publish(ctx, nc, JobSubject, Job{Path: path})
}

// StartConsumer subscribes to ingestion jobs and runs each through
// partitioning and the pipeline. A failed job is republished with its retry
// count bumped until MaxJobRetries, then dead-lettered.
func StartConsumer(nc *nats.Conn, svc *Service, partition PartitionFunc, log *slog.Logger) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}

	return natsutil.Subscribe(nc, JobSubject, func(ctx context.Context, job Job) {
		err := runJob(ctx, svc, partition, job)
		if err == nil {
			log.Info("ingest: job done", "path", job.Path)
			return
		}

		job.Retries++
		log.Error("ingest: job failed", "path", job.Path, "retry", job.Retries, "error", err)

		if job.Retries >= MaxJobRetries {
			if perr := natsutil.Publish(ctx, nc, DLQSubject, dlqMessage{Job: job, Error: err.Error()}); perr != nil {
				log.Error("ingest: DLQ publish failed", "error", perr)
			}
			return
		}
		if perr := natsutil.Publish(ctx, nc, JobSubject, job); perr != nil {
			log.Error("ingest: retry publish failed", "error", perr)
		}
	})
}

func runJob(ctx context.Context, svc *Service, partition PartitionFunc, job Job) error {
	chunks, err := partition(ctx, job.Path)
	if err != nil {
		return err
	}
	_, err = svc.Run(ctx, chunks)
	return err
}

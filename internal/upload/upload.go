// Package upload persists encoded doorbell snapshots to an append-only log.
//
// A Sink appends one LogEntry under a key assigned by the backend (or a
// time-ordered UUIDv7 when the backend has no native ordering). The Worker
// runs pushes on its own goroutine so network latency never reaches the
// pipeline.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUploadFailed wraps every failure to persist an entry.
var ErrUploadFailed = errors.New("upload: push failed")

// DefaultPath is the log the doorbell appends to.
const DefaultPath = "logs"

// Sink types accepted in configuration.
const (
	SinkMemory = "memory"
	SinkRedis  = "redis"
	SinkMQTT   = "mqtt"
	SinkKafka  = "kafka"
	SinkS3     = "s3"
)

// LogEntry is one persisted snapshot.
type LogEntry struct {
	Image string `json:"image"`
}

// Record is a LogEntry with the key it was stored under.
type Record struct {
	Key   string    `json:"key"`
	Time  time.Time `json:"time"`
	Entry LogEntry  `json:"entry"`
}

// Sink appends entries to a named log.
type Sink interface {
	// Push appends entry to path and returns its key.
	Push(ctx context.Context, path string, entry LogEntry) (key string, err error)
	Close() error
}

// Lister is implemented by sinks that can read back recent entries.
type Lister interface {
	// List returns up to n most recent records of path, newest first.
	List(ctx context.Context, path string, n int) ([]Record, error)
}

// newKey returns a time-ordered unique key.
func newKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// envelope is the self-describing message written by sinks that carry a
// single opaque payload (MQTT, Kafka, S3).
type envelope struct {
	Key  string `json:"key,omitempty"`
	Path string `json:"path"`
	Time string `json:"ts"`
	LogEntry
}

func encodeEnvelope(path, key string, entry LogEntry, now time.Time) ([]byte, error) {
	return json.Marshal(envelope{
		Key:      key,
		Path:     path,
		Time:     now.UTC().Format(time.RFC3339Nano),
		LogEntry: entry,
	})
}

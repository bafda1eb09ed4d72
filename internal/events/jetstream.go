package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"mailtally/internal/model"
)

// RunEvent is the payload published for every finished sync run.
type RunEvent struct {
	Type string           `json:"type"`
	Run  model.RunSummary `json:"run"`
}

const runFinished = "sync.run.finished"

// Publisher sends run summaries to a NATS JetStream stream.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	stream  string
	subject string
}

// NewPublisher connects to url and binds to the given stream and subject.
func NewPublisher(url, stream, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("mailtally"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	return &Publisher{nc: nc, js: js, stream: stream, subject: subject}, nil
}

// EnsureStream creates the stream if it does not exist yet.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	info, err := p.js.StreamInfo(p.stream, nats.Context(ctx))
	if err == nil && info != nil {
		return nil
	}
	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       p.stream,
		Subjects:   []string{p.subject + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	}, nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishRun publishes the summary on <subject>.<status>. The run id is the
// JetStream message id, so a retried publish is deduplicated server-side.
func (p *Publisher) PublishRun(ctx context.Context, run model.RunSummary) error {
	subject, payload, err := Encode(p.subject, run)
	if err != nil {
		return err
	}
	if _, err := p.js.Publish(subject, payload, nats.MsgId(run.RunID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish run %s: %w", run.RunID, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// Encode returns the subject and JSON payload for a run.
func Encode(base string, run model.RunSummary) (string, []byte, error) {
	payload, err := json.Marshal(RunEvent{Type: runFinished, Run: run})
	if err != nil {
		return "", nil, fmt.Errorf("marshal run event: %w", err)
	}
	return base + "." + string(run.Status), payload, nil
}

// Package sqs feeds storage change notifications from an SQS queue into the pipeline.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tendant/simple-video/pkg/simplevideo"
)

// API is the subset of the SQS client the consumer uses
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

var messagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "simplevideo",
	Subsystem: "queue",
	Name:      "messages_total",
	Help:      "Queue messages handled by outcome.",
}, []string{"outcome"})

// Config tunes the receive loop
type Config struct {
	QueueURL        string
	MaxMessages     int32
	WaitTimeSeconds int32
	// VisibilityTimeout hides received messages from other consumers.
	// Messages still in the batch are re-hidden every HeartbeatInterval.
	VisibilityTimeout time.Duration
	HeartbeatInterval time.Duration
	ErrorBackoff      time.Duration
}

// Consumer long-polls a queue and processes each message as a record batch.
// A message whose batch had a fatal record failure is left on the queue for redelivery.
type Consumer struct {
	client  API
	service simplevideo.Service
	cfg     Config
	logger  *slog.Logger
}

// NewConsumer creates a consumer. Zero config fields take defaults.
func NewConsumer(client API, service simplevideo.Service, cfg Config, logger *slog.Logger) (*Consumer, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("queue url is required")
	}
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	if cfg.WaitTimeSeconds <= 0 || cfg.WaitTimeSeconds > 20 {
		cfg.WaitTimeSeconds = 20
	}
	if cfg.VisibilityTimeout < time.Second {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.VisibilityTimeout {
		cfg.HeartbeatInterval = cfg.VisibilityTimeout / 2
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, service: service, cfg: cfg, logger: logger}, nil
}

// Run polls until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("queue consumer started", "queue_url", c.cfg.QueueURL)
	for {
		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				c.logger.Info("queue consumer stopped")
				return nil
			}
			c.logger.Error("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.ErrorBackoff):
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("queue consumer stopped")
			return nil
		}
	}
}

// Poll runs one receive round and returns how many messages were deleted
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: c.cfg.MaxMessages,
		WaitTimeSeconds:     c.cfg.WaitTimeSeconds,
		VisibilityTimeout:   c.visibilitySeconds(),
	}

	out, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return 0, nil
	}

	pending := newPendingSet(out.Messages)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepHidden(ctx, pending, stop)
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	deleted := 0
	for _, msg := range out.Messages {
		ok := c.handle(ctx, msg)
		pending.remove(aws.ToString(msg.ReceiptHandle))
		if !ok {
			continue
		}
		if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(c.cfg.QueueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			c.logger.Error("delete message failed", "message_id", aws.ToString(msg.MessageId), "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

func (c *Consumer) visibilitySeconds() int32 {
	return int32(c.cfg.VisibilityTimeout / time.Second)
}

// keepHidden extends the visibility of pending messages until stop is closed
func (c *Consumer) keepHidden(ctx context.Context, pending *pendingSet, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, handle := range pending.handles() {
			if _, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          aws.String(c.cfg.QueueURL),
				ReceiptHandle:     aws.String(handle),
				VisibilityTimeout: c.visibilitySeconds(),
			}); err != nil {
				c.logger.Warn("failed to extend message visibility", "error", err)
			}
		}
	}
}

// pendingSet tracks receipt handles of a batch that are not yet handled
type pendingSet struct {
	mu      sync.Mutex
	pending map[string]struct{}
}

func newPendingSet(msgs []types.Message) *pendingSet {
	p := &pendingSet{pending: make(map[string]struct{}, len(msgs))}
	for _, msg := range msgs {
		p.pending[aws.ToString(msg.ReceiptHandle)] = struct{}{}
	}
	return p
}

func (p *pendingSet) remove(handle string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, handle)
}

func (p *pendingSet) handles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.pending))
	for h := range p.pending {
		out = append(out, h)
	}
	return out
}

// handle processes one message and reports whether it should be deleted
func (c *Consumer) handle(ctx context.Context, msg types.Message) bool {
	logger := c.logger.With("message_id", aws.ToString(msg.MessageId))

	env, err := parseBody(aws.ToString(msg.Body))
	if err != nil {
		messagesHandled.WithLabelValues("discarded").Inc()
		logger.Warn("discarding unparseable message", "error", err)
		return true
	}
	if !env.IsBatch() {
		messagesHandled.WithLabelValues("discarded").Inc()
		logger.Warn("discarding message without storage records")
		return true
	}

	outcomes := c.service.ProcessRecords(ctx, env.Records)
	for _, outcome := range outcomes {
		if outcome.Failed() {
			messagesHandled.WithLabelValues("retried").Inc()
			logger.Warn("batch had failures, leaving message for redelivery", "key", outcome.Key, "error", outcome.Error)
			return false
		}
	}
	messagesHandled.WithLabelValues("processed").Inc()
	logger.Info("message processed", "records", len(env.Records), "handled", len(outcomes))
	return true
}

// snsNotification is the wrapper SNS adds when a topic fans out to the queue
type snsNotification struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// parseBody accepts raw S3 notifications and SNS-wrapped ones
func parseBody(body string) (*simplevideo.Envelope, error) {
	var sns snsNotification
	if err := json.Unmarshal([]byte(body), &sns); err == nil && sns.Type == "Notification" && sns.Message != "" {
		body = sns.Message
	}
	return simplevideo.ParseEnvelope([]byte(body))
}

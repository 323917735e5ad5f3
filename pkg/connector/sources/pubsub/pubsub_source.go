// Package pubsub consumes Google Cloud Pub/Sub subscriptions. Messages
// ack on Checkpoint, after the executor commits their batch, so failures
// redeliver at-least-once.
package pubsub

import (
	"context"
	"sync"

	gcps "cloud.google.com/go/pubsub"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
)

// Source pulls from one subscription.
type Source struct {
	client *gcps.Client
	cancel context.CancelFunc
	done   chan struct{}
	msgs   chan *gcps.Message
	logger *zap.Logger

	mu      sync.Mutex
	pending []*gcps.Message
	recvErr error
}

// New creates an unopened Pub/Sub source.
func New() *Source {
	return &Source{logger: logger.Get().With(zap.String("connector", "pubsub"))}
}

// Open connects and starts the streaming pull.
func (s *Source) Open(ctx context.Context, params core.OpenParams) error {
	client, sub, err := connect(ctx, params)
	if err != nil {
		return err
	}
	s.client = client
	s.msgs = make(chan *gcps.Message, params.Int("max_messages", 1000))

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		err := sub.Receive(runCtx, func(_ context.Context, msg *gcps.Message) {
			select {
			case s.msgs <- msg:
			case <-runCtx.Done():
				msg.Nack()
			}
		})
		if err != nil && runCtx.Err() == nil {
			s.mu.Lock()
			s.recvErr = wrapPubSubErr(err, "streaming pull failed")
			s.mu.Unlock()
		}
	}()

	s.logger.Info("subscription attached", zap.String("subscription", sub.ID()))
	return nil
}

// Fetch blocks for the first message, then drains without waiting.
func (s *Source) Fetch(ctx context.Context, max int) ([]model.Record, bool, error) {
	s.mu.Lock()
	if err := s.recvErr; err != nil {
		s.mu.Unlock()
		return nil, false, err
	}
	s.mu.Unlock()

	var out []model.Record
	for len(out) < max {
		var msg *gcps.Message
		if len(out) == 0 {
			select {
			case msg = <-s.msgs:
			case <-ctx.Done():
				return out, false, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "fetch cancelled")
			}
		} else {
			select {
			case msg = <-s.msgs:
			default:
				return out, false, nil
			}
		}

		rec := model.Record{
			Key:       msg.OrderingKey,
			Raw:       msg.Data,
			Timestamp: msg.PublishTime,
			Source:    map[string]string{"message_id": msg.ID},
		}
		if rec.Key == "" {
			rec.Key = msg.ID
		}
		var data map[string]interface{}
		if err := json.Unmarshal(msg.Data, &data); err == nil {
			rec.Data = data
		}
		out = append(out, rec)

		s.mu.Lock()
		s.pending = append(s.pending, msg)
		s.mu.Unlock()
	}
	return out, false, nil
}

// Checkpoint acks every delivered message.
func (s *Source) Checkpoint(_ context.Context) (string, error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, msg := range pending {
		msg.Ack()
	}
	return "", nil
}

// Close nacks undelivered messages and tears down the client.
func (s *Source) Close(_ context.Context) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, msg := range pending {
		msg.Nack()
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Test checks that the subscription exists and is reachable.
func (s *Source) Test(ctx context.Context, params core.OpenParams) error {
	client, sub, err := connect(ctx, params)
	if err != nil {
		return err
	}
	defer client.Close()

	exists, err := sub.Exists(ctx)
	if err != nil {
		return wrapPubSubErr(err, "subscription probe failed")
	}
	if !exists {
		return errors.Newf(errors.ErrorTypeNotFound, "subscription %q not found", sub.ID())
	}
	return nil
}

func connect(ctx context.Context, params core.OpenParams) (*gcps.Client, *gcps.Subscription, error) {
	projectID := params.String("project_id")
	subID := params.String("subscription_id")
	if projectID == "" || subID == "" {
		return nil, nil, errors.New(errors.ErrorTypeConfig,
			"project_id and subscription_id are required")
	}

	var opts []option.ClientOption
	if key := params.Cred("service_account_json"); key != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(key)))
	}
	client, err := gcps.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, nil, wrapPubSubErr(err, "pubsub client failed")
	}

	sub := client.Subscription(subID)
	sub.ReceiveSettings.MaxOutstandingMessages = params.Int("flow_control_max_messages", 1000)
	return client, sub, nil
}

func wrapPubSubErr(err error, msg string) error {
	t := errors.ErrorTypeConnection
	switch status.Code(err) {
	case codes.Unauthenticated:
		t = errors.ErrorTypeAuthentication
	case codes.PermissionDenied:
		t = errors.ErrorTypePermission
	case codes.NotFound:
		t = errors.ErrorTypeNotFound
	case codes.ResourceExhausted:
		t = errors.ErrorTypeRateLimit
	case codes.DeadlineExceeded:
		t = errors.ErrorTypeTimeout
	}
	return errors.Wrap(err, t, msg)
}

// Package kafka consumes topics through a consumer group and hands
// records to the executor pull-style.
package kafka

import (
	"context"
	"crypto/tls"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
)

// Source consumes Kafka topics via a consumer group. Offsets commit on
// Checkpoint, after the executor lands the batch, so a crash replays
// at-least-once and dedup absorbs the overlap.
type Source struct {
	group  sarama.ConsumerGroup
	msgs   chan *sarama.ConsumerMessage
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger

	valueFormat string
	avro        *avroDecoder
	tokens      sarama.AccessTokenProvider

	mu      sync.Mutex
	session sarama.ConsumerGroupSession
	pending []*sarama.ConsumerMessage
}

// New creates an unopened Kafka source.
func New() *Source {
	return &Source{logger: logger.Get().With(zap.String("connector", "kafka"))}
}

// SetTokenProvider enables SASL/OAUTHBEARER with tokens from tp.
// Kafka-protocol frontends with OAuth auth (Event Hubs) use this.
func (s *Source) SetTokenProvider(tp sarama.AccessTokenProvider) {
	s.tokens = tp
}

// Open joins the consumer group and starts the consume loop.
func (s *Source) Open(ctx context.Context, params core.OpenParams) error {
	cfg, brokers, groupID, topics, err := s.buildConfig(params)
	if err != nil {
		return err
	}

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return wrapKafkaErr(err, "joining consumer group failed")
	}
	s.group = group
	s.msgs = make(chan *sarama.ConsumerMessage, params.Int("max_poll_records", 500))
	s.valueFormat = params.StringDefault("value_format", "json")
	if s.valueFormat == "avro" {
		url := params.String("schema_registry_url")
		if url == "" {
			_ = group.Close()
			return errors.New(errors.ErrorTypeConfig, "avro value format requires schema_registry_url")
		}
		s.avro = newAvroDecoder(url)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.consumeLoop(runCtx, topics)

	s.logger.Info("consumer group joined",
		zap.Strings("topics", topics),
		zap.String("group", groupID))
	return nil
}

func (s *Source) consumeLoop(ctx context.Context, topics []string) {
	defer close(s.done)
	handler := &groupHandler{source: s, ctx: ctx}
	for {
		// Consume returns on rebalance; loop to rejoin.
		if err := s.group.Consume(ctx, topics, handler); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("consume loop error, rejoining", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Fetch blocks for the first message, then drains up to max without
// waiting. Streaming sources never report done.
func (s *Source) Fetch(ctx context.Context, max int) ([]model.Record, bool, error) {
	var out []model.Record
	for len(out) < max {
		var msg *sarama.ConsumerMessage
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
		rec, err := s.decode(ctx, msg)
		if err != nil {
			// An undecodable message still reaches the executor so it
			// lands in the dead letter queue rather than wedging the
			// partition.
			rec = model.Record{Key: string(msg.Key), Raw: msg.Value, Timestamp: msg.Timestamp}
		}
		rec.Source = map[string]string{
			"topic":     msg.Topic,
			"partition": strconv.FormatInt(int64(msg.Partition), 10),
			"offset":    strconv.FormatInt(msg.Offset, 10),
		}
		out = append(out, rec)

		s.mu.Lock()
		s.pending = append(s.pending, msg)
		s.mu.Unlock()
	}
	return out, false, nil
}

func (s *Source) decode(ctx context.Context, msg *sarama.ConsumerMessage) (model.Record, error) {
	rec := model.Record{Key: string(msg.Key), Raw: msg.Value, Timestamp: msg.Timestamp}
	switch s.valueFormat {
	case "string":
		rec.Data = map[string]interface{}{"value": string(msg.Value)}
	case "avro":
		data, err := s.avro.Decode(ctx, msg.Value)
		if err != nil {
			return rec, err
		}
		rec.Data = data
	default:
		var data map[string]interface{}
		if err := json.Unmarshal(msg.Value, &data); err != nil {
			return rec, errors.Wrap(err, errors.ErrorTypeData, "message is not valid JSON")
		}
		rec.Data = data
	}
	return rec, nil
}

// Checkpoint marks every delivered message and returns no watermark;
// consumer group offsets are the position.
func (s *Source) Checkpoint(_ context.Context) (string, error) {
	s.mu.Lock()
	session := s.session
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if session == nil {
		return "", nil
	}
	for _, msg := range pending {
		session.MarkMessage(msg, "")
	}
	return "", nil
}

// Close leaves the consumer group.
func (s *Source) Close(_ context.Context) error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if s.group != nil {
		if err := s.group.Close(); err != nil {
			return wrapKafkaErr(err, "closing consumer group failed")
		}
	}
	return nil
}

// Test connects with a short-lived client and verifies the configured
// topics exist.
func (s *Source) Test(ctx context.Context, params core.OpenParams) error {
	cfg, brokers, _, topics, err := s.buildConfig(params)
	if err != nil {
		return err
	}
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return wrapKafkaErr(err, "broker connection failed")
	}
	defer client.Close()

	available, err := client.Topics()
	if err != nil {
		return wrapKafkaErr(err, "listing topics failed")
	}
	known := make(map[string]bool, len(available))
	for _, t := range available {
		known[t] = true
	}
	var missing []string
	for _, t := range topics {
		if !known[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return errors.Newf(errors.ErrorTypeData, "topics not found: %s", strings.Join(missing, ", "))
	}
	_ = ctx
	return nil
}

// groupHandler bridges sarama's push API onto the source's channel.
type groupHandler struct {
	source *Source
	ctx    context.Context
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.source.mu.Lock()
	h.source.session = session
	h.source.mu.Unlock()
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		select {
		case h.source.msgs <- msg:
		case <-session.Context().Done():
			return nil
		case <-h.ctx.Done():
			return nil
		}
	}
	return nil
}

func (s *Source) buildConfig(params core.OpenParams) (*sarama.Config, []string, string, []string, error) {
	servers := params.String("bootstrap_servers")
	groupID := params.String("consumer_group")
	topics := params.StringList("topics")
	if servers == "" || groupID == "" || len(topics) == 0 {
		return nil, nil, "", nil, errors.New(errors.ErrorTypeConfig,
			"bootstrap_servers, consumer_group, and topics are required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.ClientID = "pulse-ingest"
	cfg.Consumer.Return.Errors = false
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	if params.StringDefault("auto_offset_reset", "latest") == "earliest" {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Group.Session.Timeout = time.Duration(params.Int("session_timeout_ms", 30000)) * time.Millisecond
	cfg.Consumer.Group.Heartbeat.Interval = time.Duration(params.Int("heartbeat_interval_ms", 10000)) * time.Millisecond
	cfg.Consumer.Fetch.Min = int32(params.Int("fetch_min_bytes", 1))
	cfg.Consumer.MaxWaitTime = time.Duration(params.Int("fetch_max_wait_ms", 500)) * time.Millisecond

	protocol := params.StringDefault("security_protocol", "PLAINTEXT")
	if strings.HasSuffix(protocol, "SSL") {
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if strings.HasPrefix(protocol, "SASL") {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = params.Cred("sasl_username")
		cfg.Net.SASL.Password = params.Cred("sasl_password")
		switch params.StringDefault("sasl_mechanism", "PLAIN") {
		case "SCRAM-SHA-256":
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return newSCRAMClient(scramSHA256) }
		case "SCRAM-SHA-512":
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return newSCRAMClient(scramSHA512) }
		case "OAUTHBEARER":
			if s.tokens == nil {
				return nil, nil, "", nil, errors.New(errors.ErrorTypeConfig,
					"OAUTHBEARER requires a token provider")
			}
			cfg.Net.SASL.Mechanism = sarama.SASLTypeOAuth
			cfg.Net.SASL.TokenProvider = s.tokens
		default:
			cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
		if cfg.Net.SASL.Mechanism != sarama.SASLTypeOAuth &&
			(cfg.Net.SASL.User == "" || cfg.Net.SASL.Password == "") {
			return nil, nil, "", nil, errors.New(errors.ErrorTypeAuthentication,
				"SASL requires sasl_username and sasl_password credentials")
		}
	}

	brokers := strings.Split(servers, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	return cfg, brokers, groupID, topics, nil
}

func wrapKafkaErr(err error, msg string) error {
	t := errors.ErrorTypeConnection
	if kerr, ok := err.(sarama.KError); ok {
		switch kerr {
		case sarama.ErrSASLAuthenticationFailed, sarama.ErrClusterAuthorizationFailed:
			t = errors.ErrorTypeAuthentication
		case sarama.ErrTopicAuthorizationFailed, sarama.ErrGroupAuthorizationFailed:
			t = errors.ErrorTypePermission
		case sarama.ErrRequestTimedOut:
			t = errors.ErrorTypeTimeout
		}
	}
	return errors.Wrap(err, t, msg)
}

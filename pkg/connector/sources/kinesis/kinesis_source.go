// Package kinesis consumes AWS Kinesis streams by polling shards with
// GetRecords. Shard positions persist in the pipeline watermark as a
// shard-to-sequence map, so restarts resume after the last committed
// record.
package kinesis

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/pinotpulse/ingest/pkg/connector/core"
	"github.com/pinotpulse/ingest/pkg/errors"
	"github.com/pinotpulse/ingest/pkg/logger"
	"github.com/pinotpulse/ingest/pkg/model"
)

// shardCursor tracks one shard's iterator and uncommitted position.
type shardCursor struct {
	shardID  string
	iterator *string
	// lastSeq is the newest delivered sequence number, committed into
	// the watermark on Checkpoint.
	lastSeq string
	closed  bool
}

// Source polls a Kinesis stream shard by shard.
type Source struct {
	client     *kinesis.Client
	streamName string
	perCall    int32
	logger     *zap.Logger

	shards []*shardCursor
	next   int
	// committed holds the checkpointed sequence per shard.
	committed map[string]string
}

// New creates an unopened Kinesis source.
func New() *Source {
	return &Source{logger: logger.Get().With(zap.String("connector", "kinesis"))}
}

// Open builds the AWS client and positions an iterator on every shard.
func (s *Source) Open(ctx context.Context, params core.OpenParams) error {
	client, err := buildClient(ctx, params)
	if err != nil {
		return err
	}
	s.client = client
	s.streamName = params.String("stream_name")
	if s.streamName == "" {
		return errors.New(errors.ErrorTypeConfig, "stream_name is required")
	}
	s.perCall = int32(params.Int("max_records_per_shard", 10000))
	if s.perCall > 10000 {
		s.perCall = 10000
	}
	if params.Bool("enhanced_fanout", false) {
		s.logger.Warn("enhanced fan-out not supported, falling back to polling",
			zap.String("stream", s.streamName))
	}

	s.committed = make(map[string]string)
	if params.Watermark != "" {
		if err := json.Unmarshal([]byte(params.Watermark), &s.committed); err != nil {
			s.logger.Warn("ignoring unreadable watermark", zap.Error(err))
			s.committed = make(map[string]string)
		}
	}

	return s.loadShards(ctx, params.StringDefault("iterator_type", "LATEST"))
}

func (s *Source) loadShards(ctx context.Context, iteratorType string) error {
	var token *string
	for {
		out, err := s.client.ListShards(ctx, &kinesis.ListShardsInput{
			StreamName: optional(s.streamName, token == nil),
			NextToken:  token,
		})
		if err != nil {
			return wrapAWSErr(err, "listing shards failed")
		}
		for _, shard := range out.Shards {
			cursor := &shardCursor{shardID: aws.ToString(shard.ShardId)}
			if err := s.seekShard(ctx, cursor, iteratorType); err != nil {
				return err
			}
			s.shards = append(s.shards, cursor)
		}
		if out.NextToken == nil {
			return nil
		}
		token = out.NextToken
	}
}

func (s *Source) seekShard(ctx context.Context, cursor *shardCursor, iteratorType string) error {
	input := &kinesis.GetShardIteratorInput{
		StreamName: aws.String(s.streamName),
		ShardId:    aws.String(cursor.shardID),
	}
	if seq, ok := s.committed[cursor.shardID]; ok && seq != "" {
		input.ShardIteratorType = types.ShardIteratorTypeAfterSequenceNumber
		input.StartingSequenceNumber = aws.String(seq)
	} else if iteratorType == "TRIM_HORIZON" {
		input.ShardIteratorType = types.ShardIteratorTypeTrimHorizon
	} else {
		input.ShardIteratorType = types.ShardIteratorTypeLatest
	}
	out, err := s.client.GetShardIterator(ctx, input)
	if err != nil {
		return wrapAWSErr(err, "acquiring shard iterator failed")
	}
	cursor.iterator = out.ShardIterator
	return nil
}

// Fetch polls the next shard in round-robin order. Empty polls back off
// briefly so a quiet stream does not spin.
func (s *Source) Fetch(ctx context.Context, max int) ([]model.Record, bool, error) {
	limit := int32(max)
	if limit > s.perCall {
		limit = s.perCall
	}

	for attempts := 0; attempts < len(s.shards); attempts++ {
		cursor := s.shards[s.next%len(s.shards)]
		s.next++
		if cursor.closed || cursor.iterator == nil {
			continue
		}

		out, err := s.client.GetRecords(ctx, &kinesis.GetRecordsInput{
			ShardIterator: cursor.iterator,
			Limit:         aws.Int32(limit),
		})
		if err != nil {
			if strings.Contains(err.Error(), "ExpiredIterator") {
				if err := s.seekShard(ctx, cursor, "LATEST"); err != nil {
					return nil, false, err
				}
				continue
			}
			return nil, false, wrapAWSErr(err, "reading shard failed")
		}
		cursor.iterator = out.NextShardIterator
		if cursor.iterator == nil {
			cursor.closed = true
			s.logger.Info("shard closed", zap.String("shard", cursor.shardID))
		}
		if len(out.Records) == 0 {
			continue
		}

		records := make([]model.Record, 0, len(out.Records))
		for _, r := range out.Records {
			rec := model.Record{
				Key: aws.ToString(r.PartitionKey),
				Raw: r.Data,
				Source: map[string]string{
					"shard":    cursor.shardID,
					"sequence": aws.ToString(r.SequenceNumber),
				},
			}
			if r.ApproximateArrivalTimestamp != nil {
				rec.Timestamp = *r.ApproximateArrivalTimestamp
			}
			var data map[string]interface{}
			if err := json.Unmarshal(r.Data, &data); err == nil {
				rec.Data = data
			}
			records = append(records, rec)
			cursor.lastSeq = aws.ToString(r.SequenceNumber)
		}
		return records, false, nil
	}

	// Every shard was empty or closed; wait before the next cycle.
	select {
	case <-time.After(time.Second):
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "fetch cancelled")
	}
}

// Checkpoint commits delivered sequence numbers into the watermark.
func (s *Source) Checkpoint(_ context.Context) (string, error) {
	for _, cursor := range s.shards {
		if cursor.lastSeq != "" {
			s.committed[cursor.shardID] = cursor.lastSeq
		}
	}
	if len(s.committed) == 0 {
		return "", nil
	}
	b, err := json.Marshal(s.committed)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "encoding checkpoint failed")
	}
	return string(b), nil
}

// Close releases nothing; the AWS client holds no persistent connection.
func (s *Source) Close(_ context.Context) error { return nil }

// Test verifies the stream exists and the credentials can read it.
func (s *Source) Test(ctx context.Context, params core.OpenParams) error {
	client, err := buildClient(ctx, params)
	if err != nil {
		return err
	}
	stream := params.String("stream_name")
	if stream == "" {
		return errors.New(errors.ErrorTypeConfig, "stream_name is required")
	}
	_, err = client.ListShards(ctx, &kinesis.ListShardsInput{
		StreamName: aws.String(stream),
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return wrapAWSErr(err, "stream probe failed")
	}
	return nil
}

func buildClient(ctx context.Context, params core.OpenParams) (*kinesis.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(params.StringDefault("region", "us-east-1")),
	}
	switch params.StringDefault("auth_method", "iam_role") {
	case "access_key":
		keyID := params.Cred("aws_access_key_id")
		secret := params.Cred("aws_secret_access_key")
		if keyID == "" || secret == "" {
			return nil, errors.New(errors.ErrorTypeAuthentication,
				"access_key auth requires aws_access_key_id and aws_secret_access_key")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keyID, secret, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "loading AWS config failed")
	}

	if params.StringDefault("auth_method", "iam_role") == "assume_role" {
		roleARN := params.String("role_arn")
		if roleARN == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "assume_role auth requires role_arn")
		}
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), roleARN,
			func(o *stscreds.AssumeRoleOptions) {
				if ext := params.String("external_id"); ext != "" {
					o.ExternalID = aws.String(ext)
				}
			})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return kinesis.NewFromConfig(cfg), nil
}

func optional(name string, include bool) *string {
	if include {
		return aws.String(name)
	}
	return nil
}

func wrapAWSErr(err error, msg string) error {
	t := errors.ErrorTypeConnection
	text := err.Error()
	switch {
	case strings.Contains(text, "AccessDenied"), strings.Contains(text, "UnrecognizedClient"),
		strings.Contains(text, "InvalidSignature"), strings.Contains(text, "security token"):
		t = errors.ErrorTypeAuthentication
	case strings.Contains(text, "ResourceNotFound"):
		t = errors.ErrorTypeNotFound
	case strings.Contains(text, "Throughput"), strings.Contains(text, "Throttl"):
		t = errors.ErrorTypeRateLimit
	}
	return errors.Wrap(err, t, msg)
}

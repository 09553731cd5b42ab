package redis

import (
	"context"
	"strings"
	"time"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/logger"
	"github.com/autom8ter/chronicle/stream"
	"github.com/go-redis/redis/v9"
	"github.com/google/uuid"
)

// field is the stream entry field holding the json encoded event
const field = "event"

// Publisher appends events to a redis stream
type Publisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewPublisher creates a publisher for the stream. A positive maxLen caps the stream's length (approximately).
func NewPublisher(client redis.UniversalClient, streamName string, maxLen int64) *Publisher {
	return &Publisher{
		client: client,
		stream: streamName,
		maxLen: maxLen,
	}
}

// Publish adds the event to the stream. The returned offset is the stream entry id.
func (p *Publisher) Publish(ctx context.Context, event *stream.Event) (string, error) {
	if err := event.Validate(); err != nil {
		return "", err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	// the entry id is assigned by redis
	event.Offset = ""
	bits, err := event.Encode()
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{field: string(bits)},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", errors.Wrap(err, errors.Internal, "failed to publish event to %s", p.stream)
	}
	event.Offset = id
	return id, nil
}

// SourceOpts configures a consumer group Source
type SourceOpts struct {
	Stream string `json:"stream" validate:"required"`
	Group  string `json:"group" validate:"required"`
	// Consumer is the consumer name within the group. Defaults to a random uuid. Entries pending on a consumer are
	// only re-delivered to the same name, so long-lived processes should set a stable one.
	Consumer string `json:"consumer"`
	// ClaimIdle is how long an entry must have been pending on another consumer of the group before the source
	// claims it on start. Zero claims every pending entry.
	ClaimIdle time.Duration `json:"claimIdle"`
	// Patterns are the collection glob patterns delivered by the source. Empty delivers every collection.
	Patterns []string `json:"patterns"`
	// Block is how long a single read waits for new entries. Defaults to one second.
	Block time.Duration `json:"block"`
}

// Source reads events from a redis stream with a consumer group. Entries delivered to the consumer but never
// acknowledged are re-delivered first, then new entries.
type Source struct {
	client  redis.UniversalClient
	opts    SourceOpts
	logger  logger.Logger
	pending bool
	claimed bool
	// cursor is the id after which pending entries are read
	cursor string
}

// NewSource creates the consumer group (and stream) if it does not exist and returns a source reading from it
func NewSource(ctx context.Context, client redis.UniversalClient, opts SourceOpts, lgger logger.Logger) (*Source, error) {
	if opts.Stream == "" || opts.Group == "" {
		return nil, errors.New(errors.Validation, "redis source: stream and group are required")
	}
	if opts.Consumer == "" {
		opts.Consumer = uuid.NewString()
	}
	if opts.Block <= 0 {
		opts.Block = time.Second
	}
	if lgger == nil {
		lgger = logger.NewNop()
	}
	if err := client.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, "0").Err(); err != nil {
		if !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return nil, errors.Wrap(err, errors.Internal, "failed to create consumer group %s", opts.Group)
		}
	}
	return &Source{
		client:  client,
		opts:    opts,
		logger:  lgger,
		pending: true,
		cursor:  "0",
	}, nil
}

// Consumer returns the consumer name of the source
func (s *Source) Consumer() string {
	return s.opts.Consumer
}

func (s *Source) Next(ctx context.Context) (*stream.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := ">"
		block := s.opts.Block
		if s.pending {
			start = s.cursor
			block = -1
		}
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.opts.Group,
			Consumer: s.opts.Consumer,
			Streams:  []string{s.opts.Stream, start},
			Count:    1,
			Block:    block,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, errors.Wrap(err, errors.Internal, "failed to read from %s", s.opts.Stream)
		}
		var messages []redis.XMessage
		for _, str := range streams {
			messages = append(messages, str.Messages...)
		}
		if len(messages) == 0 {
			if !s.claimed {
				s.claimed = true
				claimed, err := s.claim(ctx)
				if err != nil {
					return nil, err
				}
				if claimed > 0 {
					s.cursor = "0"
					continue
				}
			}
			s.pending = false
			continue
		}
		msg := messages[0]
		if s.pending {
			s.cursor = msg.ID
		}
		event, ok := s.decode(ctx, msg)
		if !ok || !stream.Match(event.Namespace.Coll, s.opts.Patterns...) {
			if err := s.Ack(ctx, msg.ID); err != nil {
				return nil, err
			}
			continue
		}
		return event, nil
	}
}

// claim moves entries left pending on other consumers of the group (ex: a crashed process with a random consumer
// name) to this consumer
func (s *Source) claim(ctx context.Context) (int, error) {
	var (
		total int
		start = "0-0"
	)
	for {
		messages, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.opts.Stream,
			Group:    s.opts.Group,
			Consumer: s.opts.Consumer,
			MinIdle:  s.opts.ClaimIdle,
			Start:    start,
			Count:    100,
		}).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return total, ctxErr
			}
			return total, errors.Wrap(err, errors.Internal, "failed to claim pending entries of %s", s.opts.Group)
		}
		total += len(messages)
		if next == "0-0" || next == "" {
			break
		}
		start = next
	}
	if total > 0 {
		s.logger.Info(ctx, "claimed pending stream entries", map[string]any{
			"stream":   s.opts.Stream,
			"group":    s.opts.Group,
			"consumer": s.opts.Consumer,
			"entries":  total,
		})
	}
	return total, nil
}

func (s *Source) decode(ctx context.Context, msg redis.XMessage) (*stream.Event, bool) {
	raw, ok := msg.Values[field].(string)
	if !ok {
		s.logger.Warn(ctx, "skipping stream entry without event", map[string]any{"id": msg.ID, "stream": s.opts.Stream})
		return nil, false
	}
	event, err := stream.Decode([]byte(raw))
	if err != nil {
		s.logger.Warn(ctx, "skipping malformed stream entry", map[string]any{"id": msg.ID, "stream": s.opts.Stream})
		return nil, false
	}
	event.Offset = msg.ID
	return event, true
}

func (s *Source) Ack(ctx context.Context, offset string) error {
	if err := s.client.XAck(ctx, s.opts.Stream, s.opts.Group, offset).Err(); err != nil {
		return errors.Wrap(err, errors.Internal, "failed to acknowledge %s", offset)
	}
	return nil
}

// Close is a no-op. The client is owned by the caller.
func (s *Source) Close(ctx context.Context) error {
	return nil
}

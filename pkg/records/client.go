package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/agora/pkg/coord"
	"github.com/dyluth/agora/pkg/fault"
)

// Client is the Redis record store adapter.
// All keys and channels are namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
//
// Each record is a hash at agora:{instance}:record:{id}, indexed by a kind ZSET
// scored by created_at_ms, a kind member SET, and one SET per tag and per label value.
type Client struct {
	rdb          *redis.Client
	instanceName string
	opTimeout    time.Duration
}

var _ Store = (*Client)(nil)

// NewClient creates a record store client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string, opts ...Option) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	o := buildOptions(opts)

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		opTimeout:    o.opTimeout,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Used by the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return fault.Retryable("records.ping", c.rdb.Ping(ctx).Err())
}

// InstanceName returns the namespace this client writes under.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// maxAddAttempts bounds how often Add re-runs after a concurrent write to the same key.
const maxAddAttempts = 3

// Add writes a record and maintains its indexes in a single MULTI/EXEC, watching the
// key so a concurrent Add or Replace is never silently overwritten.
func (c *Client) Add(ctx context.Context, rec *Record) (string, error) {
	const op = "records.add"
	if err := prepareAdd(op, rec); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	key := RecordKey(c.instanceName, rec.ID)
	var version int64
	write := func(tx *redis.Tx) error {
		prev, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fault.Retryable(op, fmt.Errorf("failed to read record: %w", err))
		}

		var old *Record
		version = 1
		if len(prev) > 0 {
			if old, err = HashToRecord(prev); err != nil {
				return fmt.Errorf("failed to deserialize record %s: %w", rec.ID, err)
			}
			if err := checkOverwrite(op, old, rec); err != nil {
				return err
			}
			version = old.Version + 1
		}

		next := *rec
		next.Version = version
		hash, err := RecordToHash(&next)
		if err != nil {
			return fmt.Errorf("failed to serialize record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old != nil {
				c.unindex(ctx, pipe, old)
				pipe.Del(ctx, key)
			}
			pipe.HSet(ctx, key, hash)
			c.index(ctx, pipe, &next)
			return nil
		})
		return err
	}

	var err error
	for attempt := 1; attempt <= maxAddAttempts; attempt++ {
		err = c.rdb.Watch(ctx, write, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, redis.TxFailedErr):
		return "", &fault.Error{Op: op, Kind: fault.ErrConflict, Err: err, Detail: fmt.Sprintf("record %q changed concurrently", rec.ID)}
	case errors.As(err, new(*fault.Error)):
		return "", err
	default:
		return "", fault.Retryable(op, fmt.Errorf("failed to write record: %w", err))
	}

	rec.Version = version
	return rec.ID, nil
}

// Get retrieves a record by id.
func (c *Client) Get(ctx context.Context, id string) (*Record, error) {
	const op = "records.get"
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	hash, err := c.rdb.HGetAll(ctx, RecordKey(c.instanceName, id)).Result()
	if err != nil {
		return nil, fault.Retryable(op, fmt.Errorf("failed to read record: %w", err))
	}
	// HGetAll returns an empty map for non-existent keys
	if len(hash) == 0 {
		return nil, &fault.Error{Op: op, Kind: fault.ErrNotFound, Err: redis.Nil, Detail: fmt.Sprintf("record %q", id)}
	}

	rec, err := HashToRecord(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize record %s: %w", id, err)
	}
	return rec, nil
}

// Search resolves candidate ids from the indexes, then filters, sorts and windows them.
// Tags and labels are intersected with SINTER; a kind-only query reads the kind ZSET;
// an unconstrained query falls back to SCAN.
func (c *Client) Search(ctx context.Context, q Query) ([]*Record, error) {
	const op = "records.search"
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	ids, err := c.candidates(ctx, q)
	if err != nil {
		return nil, fault.Retryable(op, err)
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, RecordKey(c.instanceName, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fault.Retryable(op, fmt.Errorf("failed to read records: %w", err))
	}

	out := make([]*Record, 0, len(ids))
	for i, cmd := range cmds {
		hash := cmd.Val()
		// Index entries can briefly outlive a record being rewritten
		if len(hash) == 0 {
			continue
		}
		rec, err := HashToRecord(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize record %s: %w", ids[i], err)
		}
		if q.Matches(rec) {
			out = append(out, rec)
		}
	}

	SortRecords(out)
	return Window(out, q.Limit), nil
}

func (c *Client) candidates(ctx context.Context, q Query) ([]string, error) {
	var sets []string
	for _, tag := range q.Tags {
		sets = append(sets, TagKey(c.instanceName, tag))
	}
	for name, value := range q.Labels {
		sets = append(sets, LabelKey(c.instanceName, name, value))
	}
	if len(sets) > 0 && q.Kind != "" {
		sets = append(sets, KindMembersKey(c.instanceName, q.Kind))
	}

	switch {
	case len(sets) > 0:
		ids, err := c.rdb.SInter(ctx, sets...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to intersect indexes: %w", err)
		}
		return ids, nil
	case q.Kind != "":
		ids, err := c.rdb.ZRange(ctx, KindKey(c.instanceName, q.Kind), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read kind index: %w", err)
		}
		return ids, nil
	default:
		var ids []string
		prefix := len(RecordKey(c.instanceName, ""))
		iter := c.rdb.Scan(ctx, 0, RecordKeyPattern(c.instanceName), 0).Iterator()
		for iter.Next(ctx) {
			ids = append(ids, iter.Val()[prefix:])
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan records: %w", err)
		}
		return ids, nil
	}
}

// Replace performs a WATCH/MULTI compare-and-set on the record version.
func (c *Client) Replace(ctx context.Context, rec *Record, expectedVersion int64) error {
	const op = "records.replace"
	if rec == nil || rec.ID == "" {
		return fault.InvalidArgument(op, "record id cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	key := RecordKey(c.instanceName, rec.ID)
	next := *rec
	next.Version = expectedVersion + 1
	if next.Labels == nil {
		next.Labels = map[string]string{}
	}
	if next.Tags == nil {
		next.Tags = []string{}
	}

	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		prev, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fault.Retryable(op, fmt.Errorf("failed to read record: %w", err))
		}
		if len(prev) == 0 {
			return fault.NotFound(op, "record %q", rec.ID)
		}
		old, err := HashToRecord(prev)
		if err != nil {
			return fmt.Errorf("failed to deserialize record %s: %w", rec.ID, err)
		}
		if old.Version != expectedVersion {
			return &fault.Error{Op: op, Kind: fault.ErrConflict,
				Detail: fmt.Sprintf("record %q is at version %d, expected %d", rec.ID, old.Version, expectedVersion)}
		}

		next.CreatedAtMs = old.CreatedAtMs
		if err := next.Validate(); err != nil {
			return fault.Invalid(op, err)
		}
		hash, err := RecordToHash(&next)
		if err != nil {
			return fmt.Errorf("failed to serialize record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			c.unindex(ctx, pipe, old)
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, hash)
			c.index(ctx, pipe, &next)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
	case errors.Is(err, redis.TxFailedErr):
		return &fault.Error{Op: op, Kind: fault.ErrConflict, Err: err, Detail: fmt.Sprintf("record %q changed concurrently", rec.ID)}
	case errors.As(err, new(*fault.Error)):
		return err
	default:
		return fault.Retryable(op, err)
	}

	rec.Version = next.Version
	rec.CreatedAtMs = next.CreatedAtMs
	return nil
}

func (c *Client) index(ctx context.Context, pipe redis.Pipeliner, rec *Record) {
	pipe.ZAdd(ctx, KindKey(c.instanceName, rec.Kind), redis.Z{Score: float64(rec.CreatedAtMs), Member: rec.ID})
	pipe.SAdd(ctx, KindMembersKey(c.instanceName, rec.Kind), rec.ID)
	for _, tag := range rec.Tags {
		pipe.SAdd(ctx, TagKey(c.instanceName, tag), rec.ID)
	}
	for name, value := range rec.Labels {
		pipe.SAdd(ctx, LabelKey(c.instanceName, name, value), rec.ID)
	}
}

func (c *Client) unindex(ctx context.Context, pipe redis.Pipeliner, rec *Record) {
	pipe.ZRem(ctx, KindKey(c.instanceName, rec.Kind), rec.ID)
	pipe.SRem(ctx, KindMembersKey(c.instanceName, rec.Kind), rec.ID)
	for _, tag := range rec.Tags {
		pipe.SRem(ctx, TagKey(c.instanceName, tag), rec.ID)
	}
	for name, value := range rec.Labels {
		pipe.SRem(ctx, LabelKey(c.instanceName, name, value), rec.ID)
	}
}

// PublishEvent publishes a lifecycle event on the instance events channel.
func (c *Client) PublishEvent(ctx context.Context, evt coord.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.rdb.Publish(ctx, EventsChannel(c.instanceName), payload).Err(); err != nil {
		return fault.Retryable("records.publish_event", err)
	}
	return nil
}

// Subscription represents an active Pub/Sub subscription to relayed events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *coord.Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of relayed events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *coord.Event {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors (undecodable messages).
// The subscription continues after errors; offending messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvents subscribes to the instance events channel.
// The subscription is confirmed before returning, so events published afterwards
// are delivered. Delivery is at-most-once; slow subscribers may miss events.
func (c *Client) SubscribeEvents(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, EventsChannel(c.instanceName))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fault.Retryable("records.subscribe_events", err)
	}

	eventsChan := make(chan *coord.Event, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var evt coord.Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &evt:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

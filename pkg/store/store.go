// Package store is the only component permitted to touch the external
// Redis-backed configuration/state/application store. It wraps go-redis the
// same way pkg/device's *DBClient types did (HGetAll/HSet/Keys/Del/Exists
// per table), generalized into the single set/del/get/keys/subscribe
// contract every orchestrator component depends on.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/orchcore/pkg/util"
)

// Namespace identifies which logical Redis database a Gateway talks to. Each
// carries its own key delimiter between table and entry, per the wire
// contract: CFG/STATE use "|", APP uses ":".
type Namespace int

const (
	// Config is CONFIG_DB (Redis DB 4): intended configuration.
	Config Namespace = iota
	// State is STATE_DB (Redis DB 6): operational state published by
	// orchestrators and kernel-event consumers.
	State
	// App is APPL_DB (Redis DB 0): the table set consumed by route-sync
	// and programmed toward the forwarding plane.
	App
)

func (n Namespace) delimiter() string {
	if n == App {
		return ":"
	}
	return "|"
}

func (n Namespace) redisDB() int {
	switch n {
	case Config:
		return 4
	case State:
		return 6
	case App:
		return 0
	default:
		return 0
	}
}

func (n Namespace) String() string {
	switch n {
	case Config:
		return "CONFIG_DB"
	case State:
		return "STATE_DB"
	case App:
		return "APPL_DB"
	default:
		return "UNKNOWN_DB"
	}
}

// Op is the kind of change a table subscription observed.
type Op string

const (
	OpSet Op = "SET"
	OpDel Op = "DEL"
)

// Event is one table mutation observed by Subscribe: a key changed with op
// SET (fields holds the post-write hash) or op DEL (fields is nil).
type Event struct {
	Table  string
	Key    string
	Op     Op
	Fields map[string]string
}

// Notification is a one-shot message delivered over a notification channel
// (e.g. VLANSTATE, ERROR_NOTIFICATIONS), mirroring swss's NotificationProducer
// /NotificationConsumer wire shape: an operation name, an opaque data string,
// and an attached field list.
type Notification struct {
	Op     string
	Data   string
	Fields map[string]string
}

// Gateway is the sole entry point components use to reach the external
// store. One Gateway instance talks to exactly one Namespace.
type Gateway struct {
	ns     Namespace
	client *redis.Client
}

// NewGateway dials a Gateway against addr for the given namespace.
func NewGateway(addr string, ns Namespace) *Gateway {
	return &Gateway{
		ns: ns,
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   ns.redisDB(),
		}),
	}
}

func (g *Gateway) redisKey(table, key string) string {
	return table + g.ns.delimiter() + key
}

// Connect verifies connectivity to the backing Redis instance.
func (g *Gateway) Connect(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (g *Gateway) Close() error {
	return g.client.Close()
}

// Set is an idempotent upsert of fields under table/key. An empty fields map
// still creates the key, using the SONiC "NULL":"NULL" sentinel convention
// so field-less entries (e.g. PORTCHANNEL_MEMBER) are observable via Exists
// and Keys.
func (g *Gateway) Set(ctx context.Context, table, key string, fields map[string]string) error {
	redisKey := g.redisKey(table, key)
	if len(fields) == 0 {
		return g.client.HSet(ctx, redisKey, "NULL", "NULL").Err()
	}
	flat := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		flat = append(flat, k, v)
	}
	if err := g.client.HSet(ctx, redisKey, flat...).Err(); err != nil {
		return fmt.Errorf("store: set %s/%s: %w", g.ns, redisKey, err)
	}
	return nil
}

// Del is an idempotent delete of table/key.
func (g *Gateway) Del(ctx context.Context, table, key string) error {
	if err := g.client.Del(ctx, g.redisKey(table, key)).Err(); err != nil {
		return fmt.Errorf("store: del %s/%s: %w", g.ns, g.redisKey(table, key), err)
	}
	return nil
}

// Get reads table/key's fields. A nil, non-error result means the key does
// not exist.
func (g *Gateway) Get(ctx context.Context, table, key string) (map[string]string, error) {
	fields, err := g.client.HGetAll(ctx, g.redisKey(table, key)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: get %s/%s: %w", g.ns, g.redisKey(table, key), err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// Exists reports whether table/key is present.
func (g *Gateway) Exists(ctx context.Context, table, key string) (bool, error) {
	n, err := g.client.Exists(ctx, g.redisKey(table, key)).Result()
	if err != nil {
		return false, fmt.Errorf("store: exists %s/%s: %w", g.ns, g.redisKey(table, key), err)
	}
	return n > 0, nil
}

// Keys is a finite snapshot of every key currently stored under table. It
// returns bare entry names with the table prefix and delimiter stripped.
func (g *Gateway) Keys(ctx context.Context, table string) ([]string, error) {
	pattern := table + g.ns.delimiter() + "*"
	redisKeys, err := g.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("store: keys %s/%s: %w", g.ns, table, err)
	}
	prefix := table + g.ns.delimiter()
	out := make([]string, 0, len(redisKeys))
	for _, rk := range redisKeys {
		out = append(out, strings.TrimPrefix(rk, prefix))
	}
	return out, nil
}

// Subscribe yields a stream of Events for every SET/DEL observed against
// table, via Redis keyspace notifications. The caller must have enabled
// `notify-keyspace-events KEA` (or equivalent) on the backing Redis
// instance; Subscribe does not configure it, since that is a
// cluster-deployment concern outside a single Gateway's authority.
//
// Per-key write ordering is preserved by the Redis keyspace-event stream;
// ordering across distinct keys in different tables is not guaranteed.
func (g *Gateway) Subscribe(ctx context.Context, table string) (<-chan Event, error) {
	pattern := fmt.Sprintf("__keyevent@%d__:*", g.ns.redisDB())
	pubsub := g.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("store: subscribe %s/%s: %w", g.ns, table, err)
	}

	prefix := table + g.ns.delimiter()
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				// Channel is "__keyevent@<db>__:<redis-command>"; payload is
				// the key that changed.
				redisKey := msg.Payload
				if !strings.HasPrefix(redisKey, prefix) {
					continue
				}
				entry := strings.TrimPrefix(redisKey, prefix)
				command := msg.Channel[strings.LastIndex(msg.Channel, ":")+1:]
				if command == "del" || command == "expired" {
					out <- Event{Table: table, Key: entry, Op: OpDel}
					continue
				}
				fields, err := g.Get(ctx, table, entry)
				if err != nil {
					util.Logger.WithField("table", table).WithField("key", entry).
						WithField("error", err).Warn("store: failed reading changed key after keyspace event")
					continue
				}
				out <- Event{Table: table, Key: entry, Op: OpSet, Fields: fields}
			}
		}
	}()
	return out, nil
}

// Notify publishes a one-shot Notification on channel, mirroring swss's
// NotificationProducer wire format (op, data, field-value pairs).
func (g *Gateway) Notify(ctx context.Context, channel, op, data string, fields map[string]string) error {
	payload := encodeNotification(op, data, fields)
	if err := g.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("store: notify %s: %w", channel, err)
	}
	return nil
}

// ConsumeNotification subscribes to channel and yields every Notification
// published on it until ctx is cancelled.
func (g *Gateway) ConsumeNotification(ctx context.Context, channel string) (<-chan Notification, error) {
	pubsub := g.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("store: consume %s: %w", channel, err)
	}

	out := make(chan Notification, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				n, err := decodeNotification(msg.Payload)
				if err != nil {
					util.Logger.WithField("channel", channel).WithField("error", err).
						Warn("store: dropping malformed notification")
					continue
				}
				out <- n
			}
		}
	}()
	return out, nil
}

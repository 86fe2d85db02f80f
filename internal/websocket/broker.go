package chatws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/trailcrew/TrailCrewBack/internal/logging"
	"github.com/trailcrew/TrailCrewBack/internal/metrics"
)

// Envelope kinds. An empty kind carries a frame; the rest replicate session
// table changes so every instance applies them in subject order.
const (
	KindJoinUser  = "join_user"
	KindEvictRoom = "evict_room"
	KindView      = "view"
	KindViewSync  = "view_sync"
	KindViewReset = "view_reset"
)

const flushTimeout = 2 * time.Second

// Envelope carries one encoded frame to the sessions of a room or a user on
// every gateway instance, or a control change to the session tables.
type Envelope struct {
	Kind     string          `json:"kind,omitempty"`
	Instance string          `json:"instance,omitempty"`
	Room     string          `json:"room,omitempty"`
	UserID   int64           `json:"user_id,omitempty"`
	Viewing  bool            `json:"viewing,omitempty"`
	Frame    json.RawMessage `json:"frame,omitempty"`
}

type DeliverFunc func(Envelope)

// Broker moves envelopes from publishers to the gateways that hold the
// target sessions. Implementations must preserve the order of envelopes
// published from one goroutine, and Publish returns only once the envelope
// is ordered against envelopes published afterwards by any instance.
type Broker interface {
	Subscribe(deliver DeliverFunc) error
	Publish(ctx context.Context, envelope Envelope) error
	Close() error
}

// LocalBroker delivers synchronously inside one process.
type LocalBroker struct {
	mu      sync.RWMutex
	deliver DeliverFunc
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{}
}

func (b *LocalBroker) Subscribe(deliver DeliverFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliver = deliver
	return nil
}

func (b *LocalBroker) Publish(_ context.Context, envelope Envelope) error {
	b.mu.RLock()
	deliver := b.deliver
	b.mu.RUnlock()
	if deliver != nil {
		deliver(envelope)
	}
	return nil
}

func (b *LocalBroker) Close() error {
	return nil
}

// NATSBroker fans envelopes out across instances through one core NATS
// subject. Each instance delivers only to its own sessions.
type NATSBroker struct {
	conn    *nats.Conn
	subject string
	sub     *nats.Subscription
}

func NewNATSBroker(url, subject string) (*NATSBroker, error) {
	conn, err := nats.Connect(url,
		nats.Name("trailcrew-chat-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSBroker{conn: conn, subject: subject}, nil
}

func (b *NATSBroker) Subscribe(deliver DeliverFunc) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var envelope Envelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			metrics.RecordDrop(metrics.DropReasonEncode)
			logging.Warn().Err(err).Msg("discarding malformed envelope")
			return
		}
		deliver(envelope)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	b.sub = sub
	return b.conn.Flush()
}

func (b *NATSBroker) Publish(_ context.Context, envelope Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		return err
	}
	// The server orders the subject; the flush makes that order follow the
	// caller's room lock.
	return b.conn.FlushTimeout(flushTimeout)
}

func (b *NATSBroker) Close() error {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

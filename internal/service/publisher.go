package service

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net"
    "sync"
    "sync/atomic"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"
)

// Publisher delivers a domain event to the named queue.  Services publish
// only after their transaction has committed and treat failures as
// non-fatal.
type Publisher interface {
    Publish(ctx context.Context, queue string, event any) error
}

// NoopPublisher drops every event.  It is used when EVENTS_ENABLED is false
// and in tests.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, any) error { return nil }

// ErrBrokerUnavailable is returned while the publisher waits out a failed
// dial before trying the broker again.
var ErrBrokerUnavailable = errors.New("rabbitmq: broker unavailable")

// ErrPublishBufferFull is returned when an event is dropped because the
// send buffer is full.
var ErrPublishBufferFull = errors.New("publish buffer full")

// AMQPPublisher keeps one connection and channel open and re-dials lazily
// after the broker drops them.  Queues are declared durable on first use and
// messages are marked persistent.  After a failed dial it refuses to dial
// again for RedialAfter, so a dead broker costs one timeout, not one per
// event.
type AMQPPublisher struct {
    url    string
    logger *logrus.Logger

    // DialTimeout bounds the TCP connect plus the AMQP handshake.
    DialTimeout time.Duration
    RedialAfter time.Duration

    mu        sync.Mutex
    conn      *amqp.Connection
    ch        *amqp.Channel
    declared  map[string]bool
    downUntil time.Time
}

// NewAMQPPublisher returns a publisher for url.  No connection is made until
// the first Publish.
func NewAMQPPublisher(url string, logger *logrus.Logger) *AMQPPublisher {
    return &AMQPPublisher{
        url:         url,
        logger:      logger,
        DialTimeout: 2 * time.Second,
        RedialAfter: 10 * time.Second,
        declared:    map[string]bool{},
    }
}

// dialer connects with a deadline covering the handshake; amqp091 clears it
// once the connection is open.
func (p *AMQPPublisher) dialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
    return func(network, addr string) (net.Conn, error) {
        deadline := time.Now().Add(p.DialTimeout)
        if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
            deadline = d
        }
        d := net.Dialer{Deadline: deadline}
        conn, err := d.DialContext(ctx, network, addr)
        if err != nil {
            return nil, err
        }
        if err := conn.SetDeadline(deadline); err != nil {
            _ = conn.Close()
            return nil, err
        }
        return conn, nil
    }
}

func (p *AMQPPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    if time.Now().Before(p.downUntil) {
        return nil, ErrBrokerUnavailable
    }
    if p.conn == nil || p.conn.IsClosed() {
        conn, err := amqp.DialConfig(p.url, amqp.Config{
            Heartbeat: 10 * time.Second,
            Locale:    "en_US",
            Dial:      p.dialer(ctx),
        })
        if err != nil {
            p.downUntil = time.Now().Add(p.RedialAfter)
            return nil, fmt.Errorf("rabbitmq: dial: %w", err)
        }
        p.conn = conn
    }
    ch, err := p.conn.Channel()
    if err != nil {
        _ = p.conn.Close()
        p.conn = nil
        p.downUntil = time.Now().Add(p.RedialAfter)
        return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
    }
    p.ch = ch
    p.declared = map[string]bool{}
    return ch, nil
}

// Publish marshals event as JSON and publishes it to queue via the default
// exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, queue string, event any) error {
    body, err := json.Marshal(event)
    if err != nil {
        return fmt.Errorf("rabbitmq: marshal event: %w", err)
    }

    p.mu.Lock()
    defer p.mu.Unlock()

    ch, err := p.channel(ctx)
    if err != nil {
        return err
    }
    if !p.declared[queue] {
        if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
            p.ch = nil
            return fmt.Errorf("rabbitmq: queue declare %s: %w", queue, err)
        }
        p.declared[queue] = true
    }
    msg := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
        p.ch = nil
        return fmt.Errorf("rabbitmq: publish %s: %w", queue, err)
    }
    return nil
}

// Close shuts the channel and connection.
func (p *AMQPPublisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.ch != nil {
        _ = p.ch.Close()
        p.ch = nil
    }
    if p.conn != nil {
        err := p.conn.Close()
        p.conn = nil
        return err
    }
    return nil
}

type outbound struct {
    queue string
    event any
}

// AsyncPublisher hands events to one background sender through a bounded
// buffer, so a slow or unreachable broker never holds up a committed
// mutation.  When the buffer is full the event is dropped and counted.
type AsyncPublisher struct {
    next    Publisher
    logger  *logrus.Logger
    timeout time.Duration

    mu      sync.RWMutex
    closed  bool
    events  chan outbound
    done    chan struct{}
    dropped atomic.Int64
}

// NewAsyncPublisher starts the sender.  Each delivery to next gets timeout.
func NewAsyncPublisher(next Publisher, logger *logrus.Logger, buffer int, timeout time.Duration) *AsyncPublisher {
    if buffer < 1 {
        buffer = 1024
    }
    if timeout <= 0 {
        timeout = 3 * time.Second
    }
    p := &AsyncPublisher{
        next:    next,
        logger:  logger,
        timeout: timeout,
        events:  make(chan outbound, buffer),
        done:    make(chan struct{}),
    }
    go p.run()
    return p
}

// Publish queues the event and returns at once.
func (p *AsyncPublisher) Publish(_ context.Context, queue string, event any) error {
    p.mu.RLock()
    defer p.mu.RUnlock()
    if p.closed {
        p.dropped.Add(1)
        return ErrPublishBufferFull
    }
    select {
    case p.events <- outbound{queue: queue, event: event}:
        return nil
    default:
        p.dropped.Add(1)
        return ErrPublishBufferFull
    }
}

// Dropped reports how many events were discarded.
func (p *AsyncPublisher) Dropped() int64 { return p.dropped.Load() }

func (p *AsyncPublisher) run() {
    defer close(p.done)
    for ev := range p.events {
        ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
        if err := p.next.Publish(ctx, ev.queue, ev.event); err != nil {
            p.logger.WithError(err).WithField("queue", ev.queue).Warn("publish event failed")
        }
        cancel()
    }
}

// Close stops accepting events and waits until the buffer drains or ctx
// ends.
func (p *AsyncPublisher) Close(ctx context.Context) error {
    p.mu.Lock()
    if !p.closed {
        p.closed = true
        close(p.events)
    }
    p.mu.Unlock()
    select {
    case <-p.done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

// publish sends event once the caller's transaction has committed.  The
// request's own deadline is not reused; a failed publish is logged and
// otherwise ignored.
func publish(pub Publisher, logger *logrus.Logger, queue string, event any) {
    if pub == nil {
        return
    }
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    if err := pub.Publish(ctx, queue, event); err != nil {
        logger.WithError(err).WithField("queue", queue).Warn("publish event failed")
    }
}

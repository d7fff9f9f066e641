package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"
)

// SalesConsumer listens on the ticket.sold queue and appends one line per
// sale to <Dir>/sales.log.
type SalesConsumer struct {
    URL    string
    Dir    string
    Logger *logrus.Logger
}

// Start connects to RabbitMQ, declares the ticket.sold queue (durable), and
// consumes until ctx is cancelled.  Dial and channel failures are retried
// with exponential backoff capped at 30s; a message that cannot be handled
// is logged and rejected without requeue so it does not loop.
func (c *SalesConsumer) Start(ctx context.Context) error {
    backoff := time.Second
    for {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        conn, err := amqp.Dial(c.URL)
        if err != nil {
            c.Logger.WithError(err).Warnf("sales-consumer: dial failed; retrying in %s", backoff)
            if !sleepCtx(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.Logger.WithError(err).Warn("sales-consumer: consume loop ended; reconnecting")
        if !sleepCtx(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

func (c *SalesConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.Logger.WithError(err).Warn("sales-consumer: set QoS failed")
    }
    if _, err := ch.QueueDeclare(TicketSoldQueue, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(TicketSoldQueue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.handleMessage(d.Body); err != nil {
                c.Logger.WithError(err).Error("sales-consumer: handle message failed")
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

func (c *SalesConsumer) handleMessage(body []byte) error {
    var ev TicketSoldEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.HoldID == "" {
        return errors.New("event has no hold id")
    }
    dir := c.Dir
    if dir == "" {
        dir = "logs"
    }
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return fmt.Errorf("mkdir %s: %w", dir, err)
    }
    f, err := os.OpenFile(filepath.Join(dir, "sales.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    user := "guest"
    if ev.UserID != nil {
        user = fmt.Sprint(*ev.UserID)
    }
    promo := ev.PromoCode
    if promo == "" {
        promo = "-"
    }
    line := fmt.Sprintf("[%s] Ticket sold | sale_id=%d | hold_id=%s | event_id=%d | tier_id=%d | qty=%d | user=%s | total=%d cents | discount=%d cents | promo=%s\n",
        ev.SoldAt, ev.SaleID, ev.HoldID, ev.EventID, ev.TierID, ev.Quantity, user, ev.TotalCents, ev.DiscountCents, promo)
    if _, err := f.WriteString(line); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// Package amqp carries scan requests and scan-finished events over RabbitMQ.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"subscan/internal/core"
	"subscan/internal/ports"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishRetries = 3
	publishTimeout = 5 * time.Second
)

var errCircuitOpen = errors.New("circuit breaker is open")

type Client struct {
	url          string
	exchangeName string
	scanQueue    string
	eventsQueue  string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	failureMu    sync.Mutex
	lastFailure  time.Time
}

var _ ports.EventPublisher = (*Client)(nil)

// NewClient connects and declares the exchange plus both queues. Routing keys
// equal queue names on the direct exchange.
func NewClient(url, exchangeName, scanQueue, eventsQueue string) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		scanQueue:    scanQueue,
		eventsQueue:  eventsQueue,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connectLocked() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.scanQueue, c.eventsQueue); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

func setup(ch *amqp091.Channel, exchange string, queues ...string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, q := range queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := ch.QueueBind(q, q, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
	}
	return nil
}

// ensureChannel reconnects when the connection was lost
func (c *Client) ensureChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	slog.Info("Reconnected to AMQP broker", "component", "amqp", "exchange", c.exchangeName)
	return c.channel, nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish to %s: %w", routingKey, errCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < publishRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(exponentialBackoff(attempt - 1)):
			}
		}

		ch, err := c.ensureChannel()
		if err != nil {
			lastErr = err
			c.recordFailure()
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err = ch.PublishWithContext(
			pctx,
			c.exchangeName, // exchange
			routingKey,     // routing key
			false,          // mandatory
			false,          // immediate
			amqp091.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp091.Persistent,
				Timestamp:    time.Now(),
				Body:         body,
			},
		)
		cancel()
		if err == nil {
			c.recordSuccess()
			return nil
		}

		lastErr = err
		c.recordFailure()
		if !isConnectionError(err) {
			break
		}
	}
	return fmt.Errorf("publish message: %w", lastErr)
}

// PublishScanRequest queues a rescan of userID
func (c *Client) PublishScanRequest(ctx context.Context, userID, reason string) error {
	body, err := NewScanRequestMessage(userID, reason).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, c.scanQueue, body); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Published scan request", "component", "amqp", "user_id", userID, "queue", c.scanQueue)
	return nil
}

// PublishSubscriptionsReplaced announces a committed scan run
func (c *Client) PublishSubscriptionsReplaced(ctx context.Context, run core.ScanRun, count int) error {
	body, err := NewSubscriptionsReplacedMessage(run.UserID, run.ID, count).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, c.eventsQueue, body); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published subscriptions replaced event",
		"component", "amqp",
		"user_id", run.UserID,
		"scan_id", run.ID,
		"count", count,
		"queue", c.eventsQueue)
	return nil
}

// ScanRequestHandler processes one decoded scan request
type ScanRequestHandler func(ctx context.Context, msg *ScanRequestMessage) error

// SubscriptionsReplacedHandler processes one decoded scan-finished event
type SubscriptionsReplacedHandler func(ctx context.Context, msg *SubscriptionsReplacedMessage) error

// ConsumeScanRequests blocks until ctx ends or the delivery channel closes.
// Undecodable messages are dropped. A failed handler requeues the message
// once; a second failure drops it.
func (c *Client) ConsumeScanRequests(ctx context.Context, handler ScanRequestHandler) error {
	return c.consume(ctx, c.scanQueue, func(ctx context.Context, d amqp091.Delivery) {
		settle(ctx, d.Body, d.Redelivered, d, "scan request", ScanRequestMessageFromJSON, handler)
	})
}

// ConsumeSubscriptionsReplaced reads the events queue with the same settling
// rules as ConsumeScanRequests.
func (c *Client) ConsumeSubscriptionsReplaced(ctx context.Context, handler SubscriptionsReplacedHandler) error {
	return c.consume(ctx, c.eventsQueue, func(ctx context.Context, d amqp091.Delivery) {
		settle(ctx, d.Body, d.Redelivered, d, "subscriptions replaced event", SubscriptionsReplacedMessageFromJSON, handler)
	})
}

func (c *Client) consume(ctx context.Context, queue string, deliver func(context.Context, amqp091.Delivery)) error {
	ch, err := c.ensureChannel()
	if err != nil {
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack (manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming", "component", "amqp", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "component", "amqp", "queue", queue, "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			deliver(ctx, delivery)
		}
	}
}

// acknowledger is the subset of amqp091.Delivery used for settling
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func settle[T any](ctx context.Context, body []byte, redelivered bool, ack acknowledger, kind string, decode func([]byte) (*T, error), handler func(context.Context, *T) error) {
	msg, err := decode(body)
	if err != nil {
		slog.ErrorContext(ctx, "Dropping malformed message", "component", "amqp", "kind", kind, "error", err)
		_ = ack.Nack(false, false)
		return
	}

	if err := handler(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to handle message",
			"component", "amqp",
			"kind", kind,
			"redelivered", redelivered,
			"error", err)
		_ = ack.Nack(false, !redelivered)
		return
	}
	_ = ack.Ack(false)
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.failureMu.Lock()
		elapsed := time.Since(c.lastFailure)
		c.failureMu.Unlock()
		if elapsed > openTimeout {
			atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.failureMu.Lock()
	c.lastFailure = time.Now()
	c.failureMu.Unlock()

	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			slog.Warn("AMQP circuit breaker opened", "component", "amqp", "failures", n)
		}
	}
}

// exponentialBackoff returns 1s, 2s, 4s... capped at maxBackoff
func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	return min(time.Duration(1<<attempt)*time.Second, maxBackoff)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

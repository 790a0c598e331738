package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/dbilnica/fundwave-dapp/internal/model"
)

// RetryHeader counts redeliveries of a relayed message.
const RetryHeader = "x-retry-count"

// AMQPRelay forwards ledger events to a durable RabbitMQ queue for the
// notification worker.
type AMQPRelay struct {
	mu        sync.Mutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	queueName string
	logger    *slog.Logger
}

// DeclareQueue declares the durable queue shared by the relay and the worker.
func DeclareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

func DialAMQPRelay(url, queueName string, logger *slog.Logger) (*AMQPRelay, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if _, err := DeclareQueue(ch, queueName); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	return &AMQPRelay{
		conn:      conn,
		ch:        ch,
		queueName: queueName,
		logger:    logger.With("component", "amqp_relay"),
	}, nil
}

// EncodeEvent builds the persistent AMQP message for ev.
func EncodeEvent(ev model.LedgerEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID.String(),
		Headers:      amqp.Table{RetryHeader: int32(0)},
		Body:         body,
	}, nil
}

// Handle is a queue Handler for TopicLedgerEvents.
func (r *AMQPRelay) Handle(payload any) error {
	ev, ok := payload.(model.LedgerEvent)
	if !ok {
		r.logger.Warn("invalid payload type, expected ledger event", "type", fmt.Sprintf("%T", payload))
		return nil
	}
	msg, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ch.Publish("", r.queueName, false, false, msg); err != nil {
		return fmt.Errorf("publish event %d: %w", ev.Seq, err)
	}
	r.logger.Debug("relayed ledger event", "seq", ev.Seq, "instruction", ev.Instruction)
	return nil
}

func (r *AMQPRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ch.Close(); err != nil {
		r.conn.Close()
		return err
	}
	return r.conn.Close()
}

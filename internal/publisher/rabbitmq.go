package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"erp_sync/internal/domain"
)

const (
	ActionCompleted = "sync.completed"
	ActionFailed    = "sync.failed"
)

// RabbitMQ publishes one summary message per orchestrated run.
type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger = logger.With("component", "publisher")
	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

// declareTopology creates the durable exchange and the queue run summaries
// are routed to.
func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

type RunMessage struct {
	Action      string                 `json:"action"`
	RunID       uuid.UUID              `json:"run_id"`
	TenantID    string                 `json:"tenant_id"`
	Direction   domain.Direction       `json:"direction"`
	Status      domain.HistoryStatus   `json:"status"`
	TotalPulled int                    `json:"total_pulled"`
	TotalPushed int                    `json:"total_pushed"`
	ErrorCount  int                    `json:"error_count"`
	Results     []domain.SyncRunResult `json:"results"`
	Timestamp   time.Time              `json:"timestamp"`
}

// NewRunMessage renders the summary of result. Any run that did not fully
// succeed is announced as failed.
func NewRunMessage(result *domain.OrchestrationResult, now time.Time) RunMessage {
	action := ActionCompleted
	if !result.Success {
		action = ActionFailed
	}
	return RunMessage{
		Action:      action,
		RunID:       result.RunID,
		TenantID:    result.TenantID,
		Direction:   result.Direction,
		Status:      result.Status,
		TotalPulled: result.TotalPulled,
		TotalPushed: result.TotalPushed,
		ErrorCount:  result.ErrorCount(),
		Results:     result.Results,
		Timestamp:   now.UTC(),
	}
}

func (r *RabbitMQ) Publish(ctx context.Context, result *domain.OrchestrationResult) error {
	now := time.Now()
	msg := NewRunMessage(result, now)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    result.RunID.String(),
			Body:         body,
			Timestamp:    now,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	r.logger.Debug("published run summary",
		"run_id", result.RunID,
		"tenant", result.TenantID,
		"action", msg.Action,
	)

	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

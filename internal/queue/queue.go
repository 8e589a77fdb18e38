// Package queue connects the query-serving side to the indexing job over
// RabbitMQ. Query serving only publishes: reindex triggers from the admin
// surface and notifications after an index version swap. The indexing job
// consumes them.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"lattice/internal/util"
	"lattice/pkg/logger"
)

const (
	ReindexQueue  = "reindex_queue"
	SwapTopic     = "index.swapped"
	eventExchange = "index_events"
)

// ReindexRequest asks the indexing job to rebuild a tenant's graph into a
// new index version.
type ReindexRequest struct {
	TenantID      string `json:"tenant_id"`
	RequestedBy   string `json:"requested_by"`
	CorrelationID string `json:"correlation_id"`
}

// SwapEvent announces that a tenant's active index version changed.
// Consumers holding per-version caches invalidate on it.
type SwapEvent struct {
	TenantID    string `json:"tenant_id"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
}

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnv("RABBITMQ_HOST")
	port := util.GetEnv("RABBITMQ_PORT")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// SetupQueues declares the reindex queue with its dead-letter and retry
// companions, plus the topic exchange for swap events.
func SetupQueues(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		eventExchange,
		"topic",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		logger.Fatal("ExchangeDeclare failed", "exchange", eventExchange, "err", err)
	}

	_, err = ch.QueueDeclare(
		ReindexQueue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("QueueDeclare failed", "queue", ReindexQueue, "err", err)
	}

	_, err = ch.QueueDeclare(
		ReindexQueue+"_dlq",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		logger.Fatal("QueueDeclare failed", "queue", ReindexQueue+"_dlq", "err", err)
	}

	_, err = ch.QueueDeclare(
		ReindexQueue+"_retry",
		true,
		false,
		false,
		false,
		amqp091.Table{
			"x-message-ttl":             int32(10000),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": ReindexQueue,
		},
	)
	if err != nil {
		logger.Fatal("QueueDeclare failed", "queue", ReindexQueue+"_retry", "err", err)
	}

	return nil
}

// PublishReindex enqueues a reindex trigger for the indexing job.
func PublishReindex(ch *amqp091.Channel, req ReindexRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	return ch.Publish(
		"",
		ReindexQueue,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// PublishSwapEvent broadcasts an index version swap on the event exchange.
func PublishSwapEvent(ch *amqp091.Channel, event SwapEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return ch.Publish(
		eventExchange,
		SwapTopic,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

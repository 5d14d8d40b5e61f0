// Package mq is the RabbitMQ event bus shared by the likes and points processes.
package mq

import amqp "github.com/rabbitmq/amqp091-go"

// Routing keys. The key alone decides how a payload is interpreted.
const (
	KeyLikePoints       = "likes.points"
	KeyReplyPoints      = "replies.points"
	KeyPostPoints       = "posts.points"
	KeyCheckinPoints    = "checkin.points"
	KeyLikeCountChanged = "likes.count-changed"
)

// Queue names.
const (
	PointsQueue    = "points_server_queue"
	LikeCountQueue = "like_count_queue"
)

// PointKeys are the routing keys carrying point events.
var PointKeys = []string{KeyLikePoints, KeyReplyPoints, KeyPostPoints, KeyCheckinPoints}

// Binding attaches one durable queue to the exchange under several keys.
type Binding struct {
	Queue string
	Keys  []string
}

// Bindings are every queue the points process consumes.
func Bindings() []Binding {
	return []Binding{
		{Queue: PointsQueue, Keys: PointKeys},
		{Queue: LikeCountQueue, Keys: []string{KeyLikeCountChanged}},
	}
}

// declareExchange asserts the durable direct exchange.
func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil)
}

// declareBinding asserts the queue and binds every key.
func declareBinding(ch *amqp.Channel, exchange string, b Binding) error {
	if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, nil); err != nil {
		return err
	}
	for _, key := range b.Keys {
		if err := ch.QueueBind(b.Queue, key, exchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}

package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryCountHeader is set by quorum queues on redelivered messages
const DeliveryCountHeader = "x-delivery-count"

// Delivery is a fetched message tagged with the channel generation it
// arrived on, which Ack and Nack need alongside the delivery tag
type Delivery struct {
	amqp.Delivery
	Generation uint64
}

// DeliveryCount returns how many times d has been delivered, starting at 1.
// Quorum queues report prior deliveries in x-delivery-count; classic queues
// only flag redeliveries, which counts as the second delivery.
func DeliveryCount(d amqp.Delivery) int {
	if v, ok := d.Headers[DeliveryCountHeader]; ok {
		switch n := v.(type) {
		case int64:
			return int(n) + 1
		case int32:
			return int(n) + 1
		case int:
			return n + 1
		case int16:
			return int(n) + 1
		case int8:
			return int(n) + 1
		case uint8:
			return int(n) + 1
		case uint16:
			return int(n) + 1
		case uint32:
			return int(n) + 1
		case uint64:
			return int(n) + 1
		}
	}

	if d.Redelivered {
		return 2
	}
	return 1
}

package orders

// Kafka topics of the durable order-event log.
const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusUpdated = "order.status_updated"
)

// Partition key = order_id, so all events of one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

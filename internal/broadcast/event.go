package broadcast

import "strings"

const (
	TopicAdmin = "admin"

	orderTopicPrefix = "order:"
)

const (
	EventNewOrder           = "new_order"
	EventOrderStatusUpdated = "order_status_updated"
	EventLowStock           = "low_stock"
	EventOutOfStock         = "out_of_stock"
	EventConnectionFailed   = "connection_failed"
	EventConnected          = "connected"
)

// Event is the payload pushed to subscribers: {topic, event, data}.
type Event struct {
	Topic string `json:"topic"`
	Name  string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

func OrderTopic(orderID string) string { return orderTopicPrefix + orderID }

// OrderIDFromTopic returns the order id of an order:<id> topic.
func OrderIDFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, orderTopicPrefix)
	return id, ok && id != ""
}

// ValidTopic reports whether topic is admin or a non-empty order topic.
func ValidTopic(topic string) bool {
	if topic == TopicAdmin {
		return true
	}
	_, ok := OrderIDFromTopic(topic)
	return ok
}

func topicClass(topic string) string {
	if topic == TopicAdmin {
		return TopicAdmin
	}
	return "order"
}

// Join is the first message a stream client sends to pick its topic.
type Join struct {
	Role    string `json:"role,omitempty"` // "admin"
	OrderID string `json:"order_id,omitempty"`
	Token   string `json:"token,omitempty"`
}

// Topic resolves the join message to a topic, "" when it names none.
func (j Join) Topic() string {
	switch {
	case j.Role == TopicAdmin:
		return TopicAdmin
	case j.OrderID != "":
		return OrderTopic(j.OrderID)
	}
	return ""
}

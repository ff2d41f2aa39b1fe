package orders

const (
	TopicOrderEvents       = "purchase_order.events"
	TopicCarrierDeliveries = "carrier.deliveries"
)

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

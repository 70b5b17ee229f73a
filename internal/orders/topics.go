package orders

const TopicOrders = "storefront.orders"

// Partition key = order id, so every event of one order stays in sequence.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

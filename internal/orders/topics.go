package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"
	TopicOrderOTPVerified   = "order.otp_verified"
	TopicPayoutCredited     = "order.payout.credited"
	TopicStockReleased      = "order.stock.released"
)

// Partition key = order_id, supaya semua event 1 order tetap berurutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

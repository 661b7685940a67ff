package orders

import "strings"

// Status values are the strings clients already send and store.
type Status string

const (
	StatusProcessing      Status = "Processing"
	StatusInTransit       Status = "Transferred to delivery partner"
	StatusDelivered       Status = "Delivered"
	StatusRefundRequested Status = "Refund Requested"
	StatusRefundAccepted  Status = "Refund Success"
)

var validNext = map[Status]map[Status]bool{
	StatusProcessing:      {StatusInTransit: true, StatusRefundRequested: true},
	StatusInTransit:       {StatusDelivered: true, StatusRefundRequested: true},
	StatusRefundRequested: {StatusRefundAccepted: true},
	StatusDelivered:       {},
	StatusRefundAccepted:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

var aliases = map[string]Status{
	"processing":      StatusProcessing,
	"intransit":       StatusInTransit,
	"delivered":       StatusDelivered,
	"refundrequested": StatusRefundRequested,
	"refundaccepted":  StatusRefundAccepted,
}

// ParseStatus accepts the wire value or the short name (InTransit,
// RefundAccepted, ...), case-insensitively.
func ParseStatus(v string) (Status, error) {
	v = strings.TrimSpace(v)
	for s := range validNext {
		if strings.EqualFold(v, string(s)) {
			return s, nil
		}
	}
	key := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(v))
	if s, ok := aliases[key]; ok {
		return s, nil
	}
	return "", Validation("invalid_status", "unknown order status %q", v)
}

package enums

// BillingEventStatus tracks what the webhook processor did with a gateway event.
type BillingEventStatus string

const (
	BillingEventStatusReceived  BillingEventStatus = "received"
	BillingEventStatusProcessed BillingEventStatus = "processed"
	BillingEventStatusIgnored   BillingEventStatus = "ignored"
)

func (s BillingEventStatus) IsValid() bool {
	switch s {
	case BillingEventStatusReceived, BillingEventStatusProcessed, BillingEventStatusIgnored:
		return true
	}
	return false
}

package enums

// CreditSource records what caused a credit extension.
type CreditSource string

const (
	CreditSourceStripeCheckout CreditSource = "stripe_checkout"
	CreditSourceAdminGrant     CreditSource = "admin_grant"
)

func (s CreditSource) IsValid() bool {
	switch s {
	case CreditSourceStripeCheckout, CreditSourceAdminGrant:
		return true
	}
	return false
}

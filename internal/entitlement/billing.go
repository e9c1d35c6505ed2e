package entitlement

import "context"

// BillingProvider is the thin slice of the payment platform the core
// needs: whether a customer's subscription is live, and where to send
// them to manage it. Checkout and webhook handling live with the
// provider, outside this service.
type BillingProvider interface {
	SubscriptionActive(ctx context.Context, customerRef string) (bool, error)
	PortalURL(customerRef string) string
}

// StaticBilling is the development stand-in: every known customer ref is
// treated as active and the portal URL is fixed by config.
type StaticBilling struct {
	Portal string
}

func (b StaticBilling) SubscriptionActive(_ context.Context, customerRef string) (bool, error) {
	return customerRef != "", nil
}

func (b StaticBilling) PortalURL(string) string {
	return b.Portal
}

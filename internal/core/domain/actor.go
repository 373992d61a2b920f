package domain

// Actor is the authenticated caller as asserted by the gateway.
type Actor struct {
	CustomerID int64
	Admin      bool
}

// CanAccess reports whether the actor owns the order or is an administrator.
func (a Actor) CanAccess(o *Order) bool {
	return a.Admin || (o != nil && o.CustomerID == a.CustomerID)
}

package webhook

import "github.com/jmehdipour/stripe-gateway/internal/model"

// Context is the transient value handed to every subscriber during one
// dispatch: the parsed event, the stored row, the resolved connected account
// (nil for platform events, and possibly nil for Connect events whose account
// is no longer in storage), and the routing tuple. It is owned by the
// dispatch task and never shared across tasks.
type Context struct {
	Event   Event
	Stored  *model.StripeEvent
	Account *model.StripeAccount
	Dest    Destination
}

// Connect reports whether this is a Connect webhook. Useful for listeners
// bound to both scopes' channels.
func (c *Context) Connect() bool { return c.Event.Connect() }

// Is reports whether the webhook has the given type.
func (c *Context) Is(eventType string) bool { return c.Event.Type == eventType }

// IsNot is the negation of Is.
func (c *Context) IsNot(eventType string) bool { return !c.Is(eventType) }

// AccountIs reports whether the webhook is scoped to the given account id.
func (c *Context) AccountIs(accountID string) bool {
	return c.Event.Account != "" && c.Event.Account == accountID
}

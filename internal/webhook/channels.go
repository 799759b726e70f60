package webhook

// Channel name prefixes. Platform and Connect events fan out to disjoint
// prefix families so listeners can bind to one scope without seeing the other.
const (
	ChannelPrefix        = "stripe.webhooks"
	ConnectChannelPrefix = "stripe.connect.webhooks"
)

// ChannelNames returns the ordered channel names a webhook of the given type
// dispatches to. For "payment_intent.succeeded" (platform scope):
//
//   - stripe.webhooks
//   - stripe.webhooks:payment_intent
//   - stripe.webhooks:payment_intent.succeeded
//
// All three always fire, catch-all first.
func ChannelNames(eventType string, connect bool) []string {
	prefix := ChannelPrefix
	if connect {
		prefix = ConnectChannelPrefix
	}

	category := Event{Type: eventType}.Category()

	return []string{
		prefix,
		prefix + ":" + category,
		prefix + ":" + eventType,
	}
}

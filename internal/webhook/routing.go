package webhook

import "strings"

// Destination is the resolved routing tuple for one (scope, event type)
// combination: the named Kafka connection, the queue (topic), and an optional
// fixed job the worker runs after the channel fan-out.
type Destination struct {
	Connection string
	Queue      string
	Job        string
}

// Route holds one per-type override as it appears in configuration.
// Empty fields inherit nothing: a present override fully replaces
// connection/queue for that combination.
type Route struct {
	Connection string `mapstructure:"connection"`
	Queue      string `mapstructure:"queue"`
	Job        string `mapstructure:"job"`
}

// Router resolves queue destinations for webhooks. Platform and Connect
// scopes are configured independently; the same event type may route
// differently depending on scope.
type Router struct {
	defaults Destination
	account  map[string]Route
	connect  map[string]Route
}

// NewRouter builds a Router. Override map keys use the flattened form of the
// event type: "payment_intent.succeeded" is configured as
// "payment_intent_succeeded".
func NewRouter(defaultConnection, defaultQueue string, account, connect map[string]Route) *Router {
	return &Router{
		defaults: Destination{Connection: defaultConnection, Queue: defaultQueue},
		account:  account,
		connect:  connect,
	}
}

// Resolve returns the destination for the given event type and scope,
// falling back to the scope-independent defaults when no override exists.
func (r *Router) Resolve(eventType string, connectScoped bool) Destination {
	overrides := r.account
	if connectScoped {
		overrides = r.connect
	}

	route, ok := overrides[routeKey(eventType)]
	if !ok {
		return r.defaults
	}

	dest := Destination{
		Connection: route.Connection,
		Queue:      route.Queue,
		Job:        route.Job,
	}
	if dest.Connection == "" {
		dest.Connection = r.defaults.Connection
	}
	if dest.Queue == "" {
		dest.Queue = r.defaults.Queue
	}
	return dest
}

// routeKey flattens an event type into its configuration key form.
func routeKey(eventType string) string {
	return strings.ReplaceAll(eventType, ".", "_")
}

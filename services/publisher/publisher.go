// Package publisher emits job result events so other components (admin
// dashboards, notifiers) can react to finished price refreshes.
package publisher

// Publisher represents a service for publishing messages
type Publisher interface {
	// Publish publishes a message to the result stream
	Publish(message []byte) error

	// Close closes the publisher connection
	Close() error
}

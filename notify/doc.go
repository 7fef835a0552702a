// Package notify delivers outbound account notifications: email verification
// links and password recovery links.
//
// Delivery is best-effort. Callers log a failed Notify and carry on; a
// failure never rolls back the token or state change that produced the
// message. [AMQPNotifier] publishes JSON messages to a RabbitMQ topic exchange
// for a mailer service to consume. [LogNotifier] is the fallback used when no
// broker is configured.
package notify

// Package observability provides the zap logger factory and the Prometheus
// metrics used by the gateway.
//
// Metrics live on a private registry so tests can build as many instances
// as they like without colliding on the default registerer.
package observability

// Package intervention holds the Five-Week Review domain: alerting thresholds,
// the pure evaluation rule, alerts with their approval state machine, and the
// audit trail. It depends only on the shared package and uuid; storage,
// delivery and scheduling live behind the ports in repository.go.
package intervention

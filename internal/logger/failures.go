package logger

import (
	"expvar"
	"log/slog"
)

// Failure kinds swallowed on the webhook path. Each one is logged and
// counted so that the mandatory 200 ACK does not hide it.
const (
	FailureSignature   = "signature"
	FailureDecode      = "decode"
	FailurePanic       = "panic"
	FailureStoreRead   = "store_read"
	FailureStoreWrite  = "store_write"
	FailureOrderCreate = "order_create"
	FailureOrderItems  = "order_items"
	FailureDelivery    = "delivery"
	FailureConflict    = "conflict"
)

// Failures counts swallowed errors by kind. Served at /debug/vars.
var Failures = expvar.NewMap("messenger_failures")

// RecordFailure logs err under kind and bumps the kind counter.
func RecordFailure(log *slog.Logger, kind string, err error, attrs ...any) {
	Failures.Add(kind, 1)
	args := append([]any{"failure", kind, "error", err}, attrs...)
	log.Error("swallowed failure", args...)
}

package redisx

import "time"

const (
	// Reconcile result: idem:reconcile:{session_id} -> order_id
	KeyIdemReconcile = "idem:reconcile:%s"

	// In-flight reconcile lock: lock:reconcile:{session_id}
	KeyReconcileLock = "lock:reconcile:%s"

	// Cache status order: order_status:{order_id} -> {"order_id": "...", "status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

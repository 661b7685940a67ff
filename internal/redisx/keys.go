package redisx

import "time"

const (
	// Lock checkout in-flight: lock:checkout:{checkout_id} -> token pemilik lock
	KeyCheckoutLock = "lock:checkout:%s"

	// Percobaan OTP per order: otp:attempts:{order_id} -> counter (fixed window)
	KeyOTPAttempts = "otp:attempts:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLCheckoutLock = 30 * time.Second
	TTLOTPWindow    = 15 * time.Minute
	TTLDedup        = 48 * time.Hour
)

// Package governance coordinates runtime safety controls such as rate
// limiting, circuit breaking, and retries for outbound platform calls.
//
// The platform dispatcher depends on these primitives to protect community
// platforms from repeated failing calls without introducing extra
// infrastructure coupling. Breakers and rate limit buckets are keyed by
// community so one misbehaving integration never starves another.
package governance

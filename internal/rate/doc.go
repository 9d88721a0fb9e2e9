// Package rate provides Redis-backed fixed-window attempt counters for the
// login surfaces: password login per email and per client IP, second-factor
// verification per user, and biometric login per device.
//
// A window starts on the first failed attempt (INCR followed by EXPIRE) and
// is cleared on success. Keys:
//   - cl:  login per email
//   - cli: login per IP
//   - c2f: second factor per user
//   - cbd: biometric per device
package rate

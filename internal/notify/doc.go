// Package notify delivers outbound principal emails (two-factor codes, new-device
// alerts) through a caller-supplied Sender.
//
// Queued messages are sent by a small worker pool, paced by a token bucket and
// retried with exponential backoff. A failed delivery is logged and counted; it is
// never reported back to the request that queued it.
package notify

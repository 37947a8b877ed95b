// Package device derives a client fingerprint from the User-Agent header and
// remote address. The fingerprint is what device tracking upserts per principal.
package device

// Package session owns session identity and the per-session resource
// maps: uploaded base images, the bounded result history ring, one-shot
// download tokens, and active job slots. Sessions expire after a
// configurable idle TTL.
package session

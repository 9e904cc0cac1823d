// Package inference talks to the image generation backend. A configured
// base URL expands into an ordered candidate list so a misconfigured or
// containerized host still resolves, and every call runs a bounded
// retry/backoff pass over that list before giving up.
package inference

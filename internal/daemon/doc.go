// Package daemon assembles the gateway services (session store, job
// scheduler, inference client, API server) into a single lifecycle
// with flock-based locking to prevent multiple instances.
package daemon

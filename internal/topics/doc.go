// Package topics defines the immutable topic variants exchanged through the hub and the
// Creator that builds them from raw JSON payloads.
package topics

// Package redis stores history cache payloads in Redis so that several console
// instances can share one cache namespace.
package redis

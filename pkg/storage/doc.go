// Package storage defines the persistence contract for completed exchanges.
// An exchange is one finished request/response pair flowing through the
// gateway, recorded for audit and inspection. Implementations live in the
// memory and postgres subpackages.
package storage

// Package idgen produces message identifiers.
package idgen

import "github.com/google/uuid"

// Generator hands out identifiers that are unique for the life of the process
// and sort roughly by creation time.
type Generator interface {
	Next() string
}

// UUIDGenerator issues UUIDv7 values: a 48-bit millisecond timestamp followed
// by random bits.
type UUIDGenerator struct{}

// New returns the default generator.
func New() *UUIDGenerator {
	return &UUIDGenerator{}
}

// Next returns a fresh identifier. If the v7 source fails a random v4 is used.
func (g *UUIDGenerator) Next() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

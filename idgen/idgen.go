// Copyright (c) 2025 BVK Chaitanya

// Package idgen derives deterministic sequences of uuids from a seed string.
// Swap attempts for an order carry ids from the order's sequence, so the same
// attempt always presents the same client id even across process restarts.
package idgen

import (
	"crypto/md5"
	"encoding/binary"

	"github.com/google/uuid"
)

// Generator produces the uuid sequence for one seed.
type Generator struct {
	base uuid.UUID

	next uint64
}

func New(seed string, offset uint64) *Generator {
	return &Generator{base: uuid.UUID(md5.Sum([]byte(seed))), next: offset}
}

// Offset returns the position of the next id in the sequence.
func (g *Generator) Offset() uint64 {
	return g.next
}

// NextID returns the next uuid in the sequence and advances the offset.
func (g *Generator) NextID() uuid.UUID {
	id := idAt(g.base, g.next)
	g.next++
	return id
}

// At returns the uuid at an arbitrary position without changing the offset.
func (g *Generator) At(offset uint64) uuid.UUID {
	return idAt(g.base, offset)
}

func idAt(base uuid.UUID, offset uint64) uuid.UUID {
	var buf [16 + 8]byte
	copy(buf[:16], base[:])
	binary.BigEndian.PutUint64(buf[16:], offset)
	return uuid.UUID(md5.Sum(buf[:]))
}

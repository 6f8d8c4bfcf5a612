package idgen

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Run returns a UUIDv7 identifier string for an agent run.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func Run() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Invocation returns a ULID string for a tool invocation or event.
// ULIDs sort lexicographically by creation time, which keeps invocation
// records in chronological order.
func Invocation() string {
	return ulid.Make().String()
}

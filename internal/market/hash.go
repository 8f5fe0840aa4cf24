package market

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainEvent separates event hashes from any other use of the same digest.
const DomainEvent = "knock/event/v1"

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed id of an event. The id covers every
// field except ID itself, so two events differ in id iff they differ in content.
func EventID(e *Event) (string, error) {
	canonical, err := MarshalCanonical(e.hashFields())
	if err != nil {
		return "", fmt.Errorf("EventID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// TraceLine renders the event's trace fields as one canonical JSON line.
func TraceLine(e *Event) ([]byte, error) {
	return MarshalCanonical(e.TraceFields())
}

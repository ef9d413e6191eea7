package trace

import (
	"strconv"
	"strings"

	"github.com/govatlas/core/pkg/canon"
	"github.com/govatlas/core/pkg/ident"
)

// Rehash recomputes an event's hash from its fields, independent of any
// stored event_hash. Used by pkg/verify's chain verifier and by tests
// asserting hash stability (§8).
func Rehash(e Event) (string, error) {
	return computeEventHash(e)
}

// computeEventHash implements the normative byte sequence from §4.5.2: no
// delimiters, no length prefixes, fields concatenated in the exact order
// listed. parent_span_id contributes the empty string when unset.
func computeEventHash(e Event) (string, error) {
	payloadCanonical, err := canon.String(e.Payload)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(e.TraceVersion)
	b.WriteString(e.EventID)
	b.WriteString(e.TraceID)
	b.WriteString(e.SpanID)
	b.WriteString(e.ParentSpanID)
	b.WriteString(e.SessionID)
	b.WriteString(strconv.FormatUint(e.Sequence, 10))
	b.WriteString(e.Timestamp.Format(rfc3339Format))
	b.WriteString(string(e.EventType))
	b.WriteString(payloadCanonical)
	b.WriteString(e.PreviousEventHash)

	return ident.SHA256Hex([]byte(b.String())), nil
}

// rfc3339Format renders a timestamp with explicit offset, matching §3's
// "RFC-3339 with timezone" field type exactly (time.RFC3339Nano would
// truncate trailing zero fractional digits inconsistently across
// implementations, so this layout always writes all nine fractional digits
// and the hashed form does not depend on trailing zeros).
const rfc3339Format = "2006-01-02T15:04:05.000000000Z07:00"

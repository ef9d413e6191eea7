// Package canon provides deterministic, byte-exact JSON canonicalization
// (C1): sorted object keys, no insignificant whitespace, UTF-8 strings, and
// a fixed numeric formatting rule. Canonical bytes are the hashing input for
// every TRACE event and CARP artifact in this module.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/govatlas/core/pkg/govern"
	"github.com/govatlas/core/pkg/ident"
)

// JSON returns the canonical byte encoding of v. It fails with a
// govern.Error of kind Validation (code "invalid_payload") when v contains
// a non-finite float or a map with non-string keys.
func JSON(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, govern.Newf(govern.KindValidation, "invalid_payload", "canon: pre-marshal failed: %v", err)
	}

	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, govern.Newf(govern.KindValidation, "invalid_payload", "canon: decode failed: %v", err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the SHA-256 hex digest of the canonical encoding of v.
func Hash(v any) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return sha256Hex(b), nil
}

// String returns the canonical encoding of v as a string.
func String(v any) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return encodeNumber(buf, t)
	case string:
		return encodeString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	default:
		return govern.Newf(govern.KindValidation, "invalid_payload", "canon: unsupported value of type %T", v)
	}
}

// encodeNumber re-renders a json.Number in the fixed form required by §4.1:
// integers as the shortest decimal, floats as the shortest round-trippable
// decimal, with no exponential form for values expressible without one.
// Non-finite floats (the only way json.Number can represent one, since the
// stdlib decoder already rejects NaN/Inf literals during Decode, is via a
// caller constructing json.Number("NaN") directly) are rejected.
func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		buf.WriteString(strconv.FormatUint(u, 10))
		return nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return govern.Newf(govern.KindValidation, "invalid_payload", "canon: invalid number %q: %v", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return govern.New(govern.KindValidation, "invalid_payload", "canon: non-finite float is not representable in canonical JSON")
	}
	// Plain decimal form, switching to exponent form only at the same
	// magnitudes where encoding/json does (|f| < 1e-6 or |f| >= 1e21).
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		buf.WriteString(strconv.FormatFloat(f, 'e', -1, 64))
	} else {
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("canon: encode string: %w", err)
	}
	b := buf.Bytes()
	buf.Truncate(len(b) - 1) // trim the trailing newline json.Encoder appends
	return nil
}

func sha256Hex(b []byte) string {
	return ident.SHA256Hex(b)
}

// Package canonical produces deterministic JSON and domain-separated
// hashes for content-addressed identity.
//
// Snapshot manifests, operation identifiers, and document checksums all
// hash canonical bytes produced here. Two semantically equal values must
// always hash to the same digest, so this package is the only
// serialization permitted for identity computation.
package canonical

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// Marshal produces canonical JSON for hashing.
//
// Rules:
//  1. Object keys sorted by UTF-16 code units
//  2. Strings NFC normalized before encoding
//  3. Only control characters, backslash, and quote are escaped
//     (no HTML escaping, no  /  escaping)
//  4. No floats (returns error)
//  5. No null (returns error)
//
// Supported types: string, bool, int, int64, uint64, []any,
// map[string]any, and nested combinations thereof.
func Marshal(v any) ([]byte, error) {
	var b strings.Builder
	if err := marshalValue(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func marshalValue(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		marshalString(b, val)
		return nil
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil
	case int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
		return nil
	case uint64:
		b.WriteString(strconv.FormatUint(val, 10))
		return nil
	case float32, float64:
		return fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	case []any:
		b.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := marshalValue(b, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		b.WriteByte(']')
		return nil
	case map[string]any:
		return marshalObject(b, val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func marshalObject(b *strings.Builder, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sortUTF16(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		marshalString(b, k)
		b.WriteByte(':')
		if err := marshalValue(b, obj[k]); err != nil {
			return fmt.Errorf("object[%q]: %w", k, err)
		}
	}
	b.WriteByte('}')
	return nil
}

// marshalString encodes a string with NFC normalization and minimal
// escaping: quote, backslash, and control characters below U+0020.
// Everything else (including <, >, &, U+2028, U+2029) is emitted raw.
func marshalString(b *strings.Builder, s string) {
	normalized := norm.NFC.String(s)

	b.WriteByte('"')
	for _, r := range normalized {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

// sortUTF16 sorts keys by their UTF-16 code unit sequences.
//
// This differs from byte-wise sorting only for strings containing
// supplementary-plane characters, but the distinction matters for
// cross-implementation hash stability.
func sortUTF16(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a := utf16.Encode([]rune(keys[i]))
		b := utf16.Encode([]rune(keys[j]))
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}

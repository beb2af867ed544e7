package encoding

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// ToUTF8 decodes a WIN1252 column value and trims the padding Firebird
// leaves on fixed width text. Every byte is decoded, including sequences that
// happen to form valid UTF-8, since FromUTF8 is the only writer.
func ToUTF8(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return strings.TrimSpace(string(b))
	}
	return strings.TrimSpace(string(decoded))
}

// FromUTF8 encodes s as WIN1252. Runes without a WIN1252 mapping are
// replaced, so the result is always writable to a WIN1252 column.
func FromUTF8(s string) []byte {
	if s == "" {
		return nil
	}
	enc := charmap.Windows1252.NewEncoder()
	out, err := enc.Bytes([]byte(s))
	if err == nil {
		return out
	}

	var sb strings.Builder
	for _, r := range s {
		if _, ok := charmap.Windows1252.EncodeRune(r); ok {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('?')
		}
	}
	out, _ = enc.Bytes([]byte(sb.String()))
	return out
}

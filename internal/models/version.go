package models

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is an opaque per-write token. Tokens are compared by equality only;
// no ordering can be inferred from them.
type Version []byte

// NewVersion returns a fresh random token.
func NewVersion() Version {
	u := uuid.New()
	return Version(u[:])
}

// ParseVersion decodes the base64 wire form.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version(b), nil
}

func (v Version) String() string {
	return base64.StdEncoding.EncodeToString(v)
}

func (v Version) IsZero() bool { return len(v) == 0 }

func (v Version) Equal(o Version) bool { return bytes.Equal(v, o) }

// ETag renders v as a strong entity tag.
func (v Version) ETag() string {
	return `"` + v.String() + `"`
}

// ErrInvalidETag is returned for malformed If-Match / If-None-Match values.
var ErrInvalidETag = errors.New("invalid entity tag")

// ParseETag decodes an If-Match style header. An empty header or "*" yields a
// zero version, meaning the write is unconditional.
func ParseETag(h string) (Version, error) {
	h = strings.TrimSpace(h)
	if h == "" || h == "*" {
		return nil, nil
	}
	h = strings.TrimPrefix(h, "W/")
	if len(h) < 2 || h[0] != '"' || h[len(h)-1] != '"' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidETag, h)
	}
	v, err := ParseVersion(h[1 : len(h)-1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidETag, err)
	}
	return v, nil
}

func (v Version) MarshalJSON() ([]byte, error) {
	if v.IsZero() {
		return []byte(`null`), nil
	}
	return json.Marshal(v.String())
}

func (v *Version) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseVersion(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Snapshot is the (version, watermark) pair a writer last observed.
type Snapshot struct {
	Version   Version
	UpdatedAt time.Time
}

// Matches reports whether the snapshot still describes the stored record.
func (s Snapshot) Matches(current Snapshot) bool {
	return s.Version.Equal(current.Version)
}

// Precision of stored watermarks.
const Precision = time.Microsecond

// NextUpdatedAt returns a watermark strictly after prev, normally now.
func NextUpdatedAt(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(Precision)
	if !now.After(prev) {
		return prev.UTC().Truncate(Precision).Add(Precision)
	}
	return now
}

// Package ulid provides a prefixed wrapper around github.com/oklog/ulid/v2
// used for operation ids, journal rows and settings rows.
//
// ULIDs sort by creation time, which keeps the operation journal ordered
// without a separate sequence column.
package ulid

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes used across kbpicker
const (
	// PrefixOperation marks an include/exclude operation
	PrefixOperation = "op"

	// PrefixJournal marks a journal row
	PrefixJournal = "jrn"

	// PrefixSetting marks a settings row
	PrefixSetting = "set"

	// PrefixRequest marks an outbound API request
	PrefixRequest = "req"

	// PrefixSeparator separates the prefix from the ULID
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// ULID wraps ulid.ULID with an optional prefix
type ULID struct {
	ulid.ULID
	prefix string
}

// Generate creates a new ULID with the current timestamp
func Generate() ULID {
	return NewWithTime(time.Now())
}

// GenerateWithPrefix creates a new ULID with the current timestamp and a prefix
func GenerateWithPrefix(prefix string) ULID {
	id := NewWithTime(time.Now())
	id.prefix = prefix
	return id
}

// NewWithTime creates a new ULID with a specific timestamp
func NewWithTime(t time.Time) ULID {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyLock.Unlock()
	return ULID{id, ""}
}

// Parse parses plain ("01AN4Z07BY79KA1307SR9X4MV3") and prefixed
// ("op-01AN4Z07BY79KA1307SR9X4MV3") ULID strings.
func Parse(id string) (ULID, error) {
	prefix, raw := split(id)
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return ULID{}, err
	}
	return ULID{parsed, prefix}, nil
}

// Validate reports whether id is a valid plain or prefixed ULID
func Validate(id string) bool {
	_, raw := split(id)
	_, err := ulid.Parse(raw)
	return err == nil
}

func split(id string) (string, string) {
	if i := strings.LastIndex(id, PrefixSeparator); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

// IsZero reports whether the ULID is the zero value
func (u ULID) IsZero() bool {
	return u.ULID == ulid.ULID{}
}

// Prefix returns the prefix of the ULID
func (u ULID) Prefix() string {
	return u.prefix
}

// String returns "prefix-ulid" or the bare ULID when no prefix is set
func (u ULID) String() string {
	if u.prefix != "" {
		return u.prefix + PrefixSeparator + u.ULID.String()
	}
	return u.ULID.String()
}

// Time returns the timestamp component of the ULID
func (u ULID) Time() time.Time {
	return ulid.Time(u.ULID.Time())
}

// MarshalJSON implements json.Marshaler
func (u ULID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (u *ULID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Value implements driver.Valuer; ULIDs are stored as strings
func (u ULID) Value() (driver.Value, error) {
	return u.String(), nil
}

// Scan implements sql.Scanner
func (u *ULID) Scan(src interface{}) error {
	switch src := src.(type) {
	case nil:
		return nil
	case string:
		parsed, err := Parse(src)
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	case []byte:
		parsed, err := Parse(string(src))
		if err != nil {
			return err
		}
		*u = parsed
		return nil
	}
	return fmt.Errorf("cannot scan %T into ULID", src)
}

// OperationID generates a new operation id
func OperationID() string {
	return GenerateWithPrefix(PrefixOperation).String()
}

// JournalID generates a new journal row id
func JournalID() string {
	return GenerateWithPrefix(PrefixJournal).String()
}

// SettingID generates a new settings row id
func SettingID() string {
	return GenerateWithPrefix(PrefixSetting).String()
}

// RequestID generates a new request id
func RequestID() string {
	return GenerateWithPrefix(PrefixRequest).String()
}

package recipe

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// DeviceID is the opaque 128-bit identity of a device. The zero value is
// reserved to mean "no device."
type DeviceID uuid.UUID

// DeviceIDNone is the reserved "no device" identity.
var DeviceIDNone DeviceID

// NewDeviceID mints a fresh v4 device identity.
func NewDeviceID() DeviceID {
	return DeviceID(uuid.New())
}

// ParseDeviceID parses a device ID from its string form.
func ParseDeviceID(s string) (DeviceID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return DeviceIDNone, fmt.Errorf("invalid device id %q: %w", s, err)
	}
	return DeviceID(u), nil
}

// String renders the device ID in its canonical UUID form.
func (d DeviceID) String() string {
	return uuid.UUID(d).String()
}

// IsNone reports whether this is the reserved "no device" identity.
func (d DeviceID) IsNone() bool {
	return d == DeviceIDNone
}

// MarshalJSON renders the device ID as a JSON string.
func (d DeviceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON parses a device ID from a JSON string.
func (d *DeviceID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDeviceID(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// recipeIDPattern matches the printable-subset, length-bounded identifier
// required for a RecipeID (spec §3/§6).
var recipeIDPattern = regexp.MustCompile(`^[\x21-\x7E]{1,64}$`)

// RecipeID is a non-empty, length-bounded, printable identifier. Uniqueness
// is enforced by the store, not by this type.
type RecipeID string

// NewRecipeID validates and constructs a RecipeID from a raw string.
func NewRecipeID(raw string) (RecipeID, error) {
	if !recipeIDPattern.MatchString(raw) {
		return "", fmt.Errorf("invalid recipe id %q: must be 1-64 printable characters", raw)
	}
	return RecipeID(raw), nil
}

// trailingCounter splits a base id from a trailing "_N" suffix, if present.
// It is used by GetUniqueID to continue an existing numbering sequence
// instead of restarting it at 1.
func trailingCounter(id string) (base string, next int) {
	idx := strings.LastIndexByte(id, '_')
	if idx < 0 || idx == len(id)-1 {
		return id, 1
	}
	suffix := id[idx+1:]
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return id, 1
	}
	return id[:idx], n + 1
}

// Name is a short, human-facing identifier: non-empty, at most 30 code
// points, alphanumeric plus "-_ .", with no leading or trailing whitespace.
type Name string

var namePattern = regexp.MustCompile(`^[\p{L}\p{N}\-_ .]+$`)

// NewName validates and constructs a Name from a raw string.
func NewName(raw string) (Name, error) {
	if raw == "" {
		return "", fmt.Errorf("name must not be empty")
	}
	count := 0
	for range raw {
		count++
	}
	if count > 30 {
		return "", fmt.Errorf("name %q exceeds 30 code points", raw)
	}
	if unicode.IsSpace(rune(raw[0])) || unicode.IsSpace(rune(raw[len(raw)-1])) {
		return "", fmt.Errorf("name %q has leading or trailing whitespace", raw)
	}
	if !namePattern.MatchString(raw) {
		return "", fmt.Errorf("name %q contains disallowed characters", raw)
	}
	return Name(raw), nil
}

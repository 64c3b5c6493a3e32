package cqrs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// SemanticVersion is a major.minor.patch event schema version.
type SemanticVersion struct {
	Major uint64
	Minor uint64
	Patch uint64
}

func ParseSemanticVersion(s string) (SemanticVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return SemanticVersion{}, fmt.Errorf("invalid semantic version %q", s)
	}
	var nums [3]uint64
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return SemanticVersion{}, fmt.Errorf("invalid semantic version %q: %w", s, err)
		}
		nums[i] = n
	}
	return SemanticVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustSemanticVersion parses s and panics on failure. Use for literals.
func MustSemanticVersion(s string) SemanticVersion {
	v, err := ParseSemanticVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v SemanticVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 ordering v against o.
func (v SemanticVersion) Compare(o SemanticVersion) int {
	for _, pair := range [][2]uint64{
		{v.Major, o.Major},
		{v.Minor, o.Minor},
		{v.Patch, o.Patch},
	} {
		if pair[0] < pair[1] {
			return -1
		}
		if pair[0] > pair[1] {
			return 1
		}
	}
	return 0
}

func (v SemanticVersion) Less(o SemanticVersion) bool  { return v.Compare(o) < 0 }
func (v SemanticVersion) Equal(o SemanticVersion) bool { return v.Compare(o) == 0 }

// SlogAttr reports the version as a log attribute under the "version" key.
func (v SemanticVersion) SlogAttr() slog.Attr { return v.SlogAttrWithKey("version") }

func (v SemanticVersion) SlogAttrWithKey(key string) slog.Attr {
	return slog.String(key, v.String())
}

func (v SemanticVersion) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *SemanticVersion) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSemanticVersion(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QualityFlag is a single data-quality tag carried by a Product.
type QualityFlag uint8

const (
	FlagMissingFields QualityFlag = 1 << iota
	FlagStaleQuote
	FlagParsingUncertain
	FlagLowConfidence
	FlagInactive
	FlagBarrierNear
)

// allFlags lists the closed flag vocabulary in display order.
var allFlags = []QualityFlag{
	FlagMissingFields,
	FlagStaleQuote,
	FlagParsingUncertain,
	FlagLowConfidence,
	FlagInactive,
	FlagBarrierNear,
}

var flagNames = map[QualityFlag]string{
	FlagMissingFields:    "MISSING_FIELDS",
	FlagStaleQuote:       "STALE_QUOTE",
	FlagParsingUncertain: "PARSING_UNCERTAIN",
	FlagLowConfidence:    "LOW_CONFIDENCE",
	FlagInactive:         "INACTIVE",
	FlagBarrierNear:      "BARRIER_NEAR",
}

// String returns the wire name of the flag.
func (f QualityFlag) String() string {
	if name, ok := flagNames[f]; ok {
		return name
	}
	return fmt.Sprintf("FLAG(%d)", uint8(f))
}

// ParseQualityFlag maps a wire name back to its flag.
func ParseQualityFlag(name string) (QualityFlag, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for flag, n := range flagNames {
		if n == upper {
			return flag, nil
		}
	}
	return 0, fmt.Errorf("unknown quality flag: %q", name)
}

// QualityFlags is a bitset over the QualityFlag vocabulary.
type QualityFlags uint8

// Has reports whether flag is set.
func (s QualityFlags) Has(flag QualityFlag) bool {
	return uint8(s)&uint8(flag) != 0
}

// With returns a copy of the set with flag added.
func (s QualityFlags) With(flag QualityFlag) QualityFlags {
	return QualityFlags(uint8(s) | uint8(flag))
}

// Without returns a copy of the set with flag removed.
func (s QualityFlags) Without(flag QualityFlag) QualityFlags {
	return QualityFlags(uint8(s) &^ uint8(flag))
}

// Set sets or clears flag depending on on.
func (s QualityFlags) Set(flag QualityFlag, on bool) QualityFlags {
	if on {
		return s.With(flag)
	}
	return s.Without(flag)
}

// IsEmpty reports whether no flag is set.
func (s QualityFlags) IsEmpty() bool {
	return s == 0
}

// List returns the set flags in display order.
func (s QualityFlags) List() []QualityFlag {
	var out []QualityFlag
	for _, f := range allFlags {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Strings returns the wire names of the set flags.
func (s QualityFlags) Strings() []string {
	out := make([]string, 0, len(allFlags))
	for _, f := range s.List() {
		out = append(out, f.String())
	}
	return out
}

func (s QualityFlags) String() string {
	return strings.Join(s.Strings(), "|")
}

// MarshalJSON encodes the set as a list of flag names.
func (s QualityFlags) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes a list of flag names.
func (s *QualityFlags) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("quality flags: %w", err)
	}
	var out QualityFlags
	for _, name := range names {
		flag, err := ParseQualityFlag(name)
		if err != nil {
			return err
		}
		out = out.With(flag)
	}
	*s = out
	return nil
}

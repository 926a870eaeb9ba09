package domain

import (
	"fmt"
	"strconv"
)

// Snowflake is a Discord id. The zero value means "unset" and is never valid.
type Snowflake uint64

// ParseSnowflake parses a decimal Discord id
func ParseSnowflake(s string) (Snowflake, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	if id == 0 {
		return 0, fmt.Errorf("invalid snowflake %q: must be non-zero", s)
	}
	return Snowflake(id), nil
}

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// MarshalText encodes the id as a decimal string, as Discord does in JSON.
func (s Snowflake) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a decimal string id
func (s *Snowflake) UnmarshalText(text []byte) error {
	id, err := strconv.ParseUint(string(text), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid snowflake %q: %w", text, err)
	}
	*s = Snowflake(id)
	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Common size units using binary (1024) base.
const (
	Byte     ByteSize = 1
	Kilobyte ByteSize = 1024
	Megabyte ByteSize = 1024 * Kilobyte
	Gigabyte ByteSize = 1024 * Megabyte
)

// ByteSize is a size value that supports human-readable parsing.
//
// Examples:
//   - "16KB" = 16 * 1024 bytes
//   - "1.5 MB" = 1.5 * 1024^2 bytes
//   - "8192" = 8192 bytes (raw number still works)
type ByteSize int64

var unitMultipliers = map[string]ByteSize{
	"":      Byte,
	"b":     Byte,
	"bytes": Byte,
	"k":     Kilobyte,
	"kb":    Kilobyte,
	"kib":   Kilobyte,
	"m":     Megabyte,
	"mb":    Megabyte,
	"mib":   Megabyte,
	"g":     Gigabyte,
	"gb":    Gigabyte,
	"gib":   Gigabyte,
}

var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// ParseByteSize parses a human-readable byte size string.
func ParseByteSize(s string) (ByteSize, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", m[1], err)
	}
	mult, ok := unitMultipliers[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", m[2])
	}
	return ByteSize(value * float64(mult)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// MarshalText implements encoding.TextMarshaler.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// Int returns the size in bytes as int.
func (b ByteSize) Int() int {
	return int(b)
}

// String returns the largest whole unit representation, e.g. "16KB".
func (b ByteSize) String() string {
	switch {
	case b == 0:
		return "0B"
	case b >= Gigabyte && b%Gigabyte == 0:
		return fmt.Sprintf("%dGB", b/Gigabyte)
	case b >= Megabyte && b%Megabyte == 0:
		return fmt.Sprintf("%dMB", b/Megabyte)
	case b >= Kilobyte && b%Kilobyte == 0:
		return fmt.Sprintf("%dKB", b/Kilobyte)
	case b >= Megabyte:
		return strconv.FormatFloat(float64(b)/float64(Megabyte), 'f', 2, 64) + "MB"
	case b >= Kilobyte:
		return strconv.FormatFloat(float64(b)/float64(Kilobyte), 'f', 2, 64) + "KB"
	default:
		return fmt.Sprintf("%dB", int64(b))
	}
}

// byteSizeHook decodes strings such as "16KB" into ByteSize fields while
// keeping viper's default duration and slice handling.
func byteSizeHook() mapstructure.DecodeHookFunc {
	target := reflect.TypeOf(ByteSize(0))
	return mapstructure.ComposeDecodeHookFunc(
		func(from, to reflect.Type, data any) (any, error) {
			if to != target || from.Kind() != reflect.String {
				return data, nil
			}
			return ParseByteSize(data.(string))
		},
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

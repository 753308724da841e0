// Package hexutil parses and formats the hexadecimal string fields used by
// the JSON command protocol ("0x55" style, case-insensitive, optional 0x
// prefix).
package hexutil

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseByte parses a byte field like "0x55" or "55".
func ParseByte(s string) (byte, error) {
	v, err := parse(s, 8)
	if err != nil {
		return 0, err
	}

	return byte(v), nil
}

// ParseUint32 parses a 32-bit field like "0x00D200".
func ParseUint32(s string) (uint32, error) {
	v, err := parse(s, 32)
	if err != nil {
		return 0, err
	}

	return uint32(v), nil
}

func parse(s string, bits int) (uint64, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if trimmed == "" {
		return 0, fmt.Errorf("hexutil: empty hex field %q", s)
	}

	v, err := strconv.ParseUint(trimmed, 16, bits)
	if err != nil {
		return 0, fmt.Errorf("hexutil: invalid hex field %q: %w", s, err)
	}

	return v, nil
}

// FormatByte formats a byte as "0xYY".
func FormatByte(b byte) string {
	return fmt.Sprintf("0x%02X", b)
}

// FormatUint32 formats a 32-bit value as "0xXXXXXXXX".
func FormatUint32(v uint32) string {
	return fmt.Sprintf("0x%08X", v)
}

// FormatBytes formats a byte sequence as a slice of "0xYY" strings.
func FormatBytes(data []byte) []string {
	out := make([]string, len(data))
	for i, b := range data {
		out[i] = FormatByte(b)
	}

	return out
}

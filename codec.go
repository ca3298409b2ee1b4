package esmon

import (
	"strconv"
	"strings"
)

// Flag names a single bit (or group of bits) in a bitmask.
type Flag struct {
	Bits uint64
	Name string
}

// FlagTable is an ordered list of flags. Order is significant: flags are
// consumed from the value in table order.
type FlagTable []Flag

// DecodeBitmask renders value as the names of the flags it contains, in table
// order and joined by "|", e.g. "FREAD|O_NONBLOCK (5)". Bits that no flag
// accounts for are reported as "[<residual>?]". The original value is always
// appended in parentheses.
func DecodeBitmask(table FlagTable, value uint64) string {
	var (
		sb        strings.Builder
		remaining = value
		first     = true
	)
	for _, f := range table {
		if f.Bits == 0 || remaining&f.Bits != f.Bits {
			continue
		}
		remaining &^= f.Bits

		if !first {
			sb.WriteByte('|')
		}
		sb.WriteString(f.Name)
		first = false
	}

	if remaining != 0 {
		sb.WriteString(" [")
		sb.WriteString(strconv.FormatUint(remaining, 10))
		sb.WriteString("?]")
	}
	sb.WriteString(" (")
	sb.WriteString(strconv.FormatUint(value, 10))
	sb.WriteByte(')')
	return sb.String()
}

// EnumTable maps enumerated values to their names.
type EnumTable map[int64]string

// DecodeEnum renders value as "<name> (<value>)", or "[?] (<value>)" when the
// table has no entry for it.
func DecodeEnum(table EnumTable, value int64) string {
	name, ok := table[value]
	if !ok {
		name = "[?]"
	}
	return name + " (" + strconv.FormatInt(value, 10) + ")"
}

// decodeBitmaskOr renders a zero value with zeroName instead of an empty
// flag list. Used for masks whose zero value has a conventional name, such as
// F_OK or PROT_NONE.
func decodeBitmaskOr(table FlagTable, value uint64, zeroName string) string {
	if value == 0 {
		return zeroName + " (0)"
	}
	return DecodeBitmask(table, value)
}

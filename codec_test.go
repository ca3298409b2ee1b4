package esmon_test

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coder/esmon"
)

func TestDecodeBitmask(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		table    esmon.FlagTable
		value    uint64
		expected string
	}{
		{"Zero", esmon.OpenFlags, 0, " (0)"},
		{"Single", esmon.OpenFlags, esmon.FlagFREAD, "FREAD (1)"},
		{"ReadCreate", esmon.OpenFlags, esmon.FlagFREAD | esmon.FlagOCREAT, "FREAD|O_CREAT (513)"},
		{"Residual", esmon.MmapProtections, 0x01 | 0x10, "PROT_READ [16?] (17)"},
		{"OnlyResidual", esmon.MmapProtections, 0x40, " [64?] (64)"},
		{"MultiBitFlagNeedsAllBits", esmon.FlagTable{{Bits: 0x3, Name: "BOTH"}}, 0x1, " [1?] (1)"},
		{"MultiBitFlag", esmon.FlagTable{{Bits: 0x3, Name: "BOTH"}, {Bits: 0x1, Name: "ONE"}}, 0x3, "BOTH (3)"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, c.expected, esmon.DecodeBitmask(c.table, c.value))
		})
	}
}

// parseBitmask splits DecodeBitmask output back into consumed bits, residual
// bits and the echoed value.
func parseBitmask(t *testing.T, table esmon.FlagTable, out string) (consumed, residual, echoed uint64) {
	t.Helper()

	open := strings.LastIndex(out, " (")
	require.True(t, open >= 0 && strings.HasSuffix(out, ")"), "missing value suffix in %q", out)
	echoed, err := strconv.ParseUint(out[open+2:len(out)-1], 10, 64)
	require.NoError(t, err)

	names := out[:open]
	if i := strings.Index(names, " ["); i >= 0 {
		residual, err = strconv.ParseUint(strings.TrimSuffix(names[i+2:], "?]"), 10, 64)
		require.NoError(t, err)
		names = names[:i]
	}
	byName := map[string]uint64{}
	for _, f := range table {
		byName[f.Name] = f.Bits
	}
	if names != "" {
		for _, n := range strings.Split(names, "|") {
			bits, ok := byName[n]
			require.True(t, ok, "unknown flag name %q", n)
			consumed |= bits
		}
	}
	return consumed, residual, echoed
}

func TestDecodeBitmaskCoversValue(t *testing.T) {
	t.Parallel()

	tables := map[string]esmon.FlagTable{
		"open":     esmon.OpenFlags,
		"access":   esmon.AccessModes,
		"csflags":  esmon.CodeSigningFlags,
		"mmap":     esmon.MmapFlags,
		"prot":     esmon.MmapProtections,
		"common":   esmon.AttrCommon,
		"volume":   esmon.AttrVolume,
		"fileattr": esmon.AttrFile,
	}
	rnd := rand.New(rand.NewSource(1))
	for name, table := range tables {
		for i := 0; i < 200; i++ {
			value := uint64(rnd.Uint32())
			if i%3 == 0 {
				value &= 0xffff
			}
			out := esmon.DecodeBitmask(table, value)
			consumed, residual, echoed := parseBitmask(t, table, out)
			assert.Equal(t, value, echoed, "%s: %q", name, out)
			assert.Equal(t, value, consumed|residual, "%s: %q", name, out)
			assert.Zero(t, consumed&residual, "%s: %q", name, out)
		}
	}
}

func TestDecodeEnum(t *testing.T) {
	t.Parallel()

	require.Equal(t, "F_GETFL (3)", esmon.DecodeEnum(esmon.FcntlCommands, 3))
	require.Equal(t, "[?] (-1)", esmon.DecodeEnum(esmon.FcntlCommands, -1))
	require.Equal(t, "[?] (424242)", esmon.DecodeEnum(esmon.FcntlCommands, 424242))
	require.Equal(t, "[?] (7)", esmon.DecodeEnum(esmon.EnumTable{}, 7))
}

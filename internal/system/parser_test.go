package system_test

import (
	"testing"

	"github.com/nace/skrinja/internal/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
	}{
		{"512", 512},
		{"500K", 500 * 1024},
		{"100M", 100 * 1024 * 1024},
		{"1G", 1024 * 1024 * 1024},
		{"2T", 2 * 1024 * 1024 * 1024 * 1024},
		{"1g", 1024 * 1024 * 1024},
		{" 10M ", 10 * 1024 * 1024},
	}

	for _, tt := range tests {
		got, err := system.ParseSize(tt.input)
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.expected, got, "input %q", tt.input)
	}
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "G", "1.5G", "-1G", "10X", "ten"} {
		_, err := system.ParseSize(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", system.FormatSize(512))
	assert.Equal(t, "1.0 KB", system.FormatSize(1024))
	assert.Equal(t, "1.5 MB", system.FormatSize(1536*1024))
	assert.Equal(t, "2.0 GB", system.FormatSize(2*1024*1024*1024))
}

const sampleDump = `LUKS header information
Version:        2
Epoch:          5

Keyslots:
  0: luks2
	Key:        512 bits
	Priority:   normal
  3: luks2
	Key:        512 bits
	Priority:   normal
Tokens:
Digests:
  0: pbkdf2
`

func TestParseKeyslotIDs(t *testing.T) {
	ids := system.ParseKeyslotIDs(sampleDump)
	assert.Equal(t, []int{0, 3}, ids)
}

func TestParseKeyslotIDsEmpty(t *testing.T) {
	assert.Empty(t, system.ParseKeyslotIDs("Keyslots:\nTokens:\n"))
}

func TestParseMapperNames(t *testing.T) {
	output := "vaultA_mapper\t(253, 0)\nvaultB_mapper\t(253, 1)\n"
	assert.Equal(t, []string{"vaultA_mapper", "vaultB_mapper"}, system.ParseMapperNames(output))
}

func TestParseMapperNamesNoDevices(t *testing.T) {
	assert.Empty(t, system.ParseMapperNames("No devices found\n"))
	assert.Empty(t, system.ParseMapperNames(""))
}

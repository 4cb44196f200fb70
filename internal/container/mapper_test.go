package container_test

import (
	"testing"

	"github.com/nace/skrinja/internal/container"
	"github.com/stretchr/testify/assert"
)

func TestMapperName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain name", "vaultA", "vaultA_mapper"},
		{"container suffix stripped", "vaultA.skr", "vaultA_mapper"},
		{"dots become underscores", "backup.2024", "backup_2024_mapper"},
		{"dashes become underscores", "my-data", "my_data_mapper"},
		{"special characters removed", "a b!c", "abc_mapper"},
		{"leading digit prefixed", "2024data", "c_2024data_mapper"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, container.MapperName(tt.input, ".skr"))
		})
	}
}

func TestMapperNameIsDeterministic(t *testing.T) {
	a := container.MapperName("vaultA", ".skr")
	b := container.MapperName("vaultA", ".skr")
	assert.Equal(t, a, b)
}

func TestNameFromMapper(t *testing.T) {
	name, ok := container.NameFromMapper("vaultA_mapper")
	assert.True(t, ok)
	assert.Equal(t, "vaultA", name)

	_, ok = container.NameFromMapper("unrelated_crypt")
	assert.False(t, ok)

	_, ok = container.NameFromMapper("_mapper")
	assert.False(t, ok)
}

func TestIsManagedMapper(t *testing.T) {
	assert.True(t, container.IsManagedMapper("vaultA_mapper"))
	assert.False(t, container.IsManagedMapper("sda3_crypt"))
}

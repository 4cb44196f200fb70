package container_test

import (
	"testing"

	"github.com/nace/skrinja/internal/container"
	"github.com/stretchr/testify/assert"
)

func TestMountPathDerivation(t *testing.T) {
	m := container.NewMountManager(nil, "/media/skrinja", ".skr")

	tests := []struct {
		mapper   string
		expected string
	}{
		{"vaultA_mapper", "/media/skrinja/vaultA"},
		{"backup_2024_mapper", "/media/skrinja/backup_2024"},
		// Mapper minted from a name carrying the file suffix
		{"vaultA_skr_mapper", "/media/skrinja/vaultA"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, m.MountPath(tt.mapper), "mapper %s", tt.mapper)
	}
}

func TestMountPathIsUniquePerName(t *testing.T) {
	m := container.NewMountManager(nil, "/media/skrinja", ".skr")

	seen := map[string]string{}
	for _, name := range []string{"vaultA", "vaultB", "backup_2024"} {
		mp := m.MountPath(container.MapperName(name, ".skr"))
		prev, dup := seen[mp]
		assert.False(t, dup, "mount path %s for both %s and %s", mp, prev, name)
		seen[mp] = name
	}
}

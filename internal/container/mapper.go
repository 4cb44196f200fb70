package container

import (
	"regexp"
	"strings"
)

// mapperSuffix marks device mappings owned by this tool. Bulk recovery
// only touches mappings carrying it.
const mapperSuffix = "_mapper"

var invalidMapperChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// MapperName derives the device mapper name for a container name:
// any container-file suffix is stripped, remaining separators become
// underscores, and the managed "_mapper" suffix is appended.
// The result is a pure function of container identity.
func MapperName(name, containerSuffix string) string {
	base := strings.TrimSuffix(name, containerSuffix)

	base = strings.ReplaceAll(base, ".", "_")
	base = strings.ReplaceAll(base, "-", "_")
	base = invalidMapperChars.ReplaceAllString(base, "")

	// Mapper names must not start with a digit
	if len(base) > 0 && base[0] >= '0' && base[0] <= '9' {
		base = "c_" + base
	}

	return base + mapperSuffix
}

// NameFromMapper recovers the container name from a managed mapper
// name. Returns false for mappings not owned by this tool.
func NameFromMapper(mapper string) (string, bool) {
	if !strings.HasSuffix(mapper, mapperSuffix) {
		return "", false
	}
	name := strings.TrimSuffix(mapper, mapperSuffix)
	if name == "" {
		return "", false
	}
	return name, true
}

// IsManagedMapper reports whether a mapper name follows the managed
// naming convention.
func IsManagedMapper(mapper string) bool {
	_, ok := NameFromMapper(mapper)
	return ok
}

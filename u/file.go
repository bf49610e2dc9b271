package u

import (
	"os"
	"strings"
)

// FileExists returns true if path is a regular file, following symlinks
func FileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// ExpandTildeInPath replaces leading ~ with home directory.
// Only "~" and "~/..." are expanded, "~user" is returned as is.
func ExpandTildeInPath(s string) string {
	if s != "~" && !strings.HasPrefix(s, "~/") {
		return s
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return s
	}
	return dir + s[1:]
}

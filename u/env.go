package u

import (
	"fmt"
	"strings"
)

// ParseEnv parses .env style data: KEY=VALUE lines, # comments.
// Values can be quoted with " or '.
func ParseEnv(d []byte) (map[string]string, error) {
	s := strings.ReplaceAll(string(d), "\r\n", "\n")
	m := make(map[string]string)
	for i, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid line %d '%s' in .env", i+1, line)
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		if n := len(val); n >= 2 && (val[0] == '"' || val[0] == '\'') && val[n-1] == val[0] {
			val = val[1 : n-1]
		}
		m[key] = val
	}
	return m, nil
}

package genome

import "strings"

// ExplodeInfo splits a VCF INFO column into its key=value pairs; flag-type
// entries map to "true". Shared with the annotation-database import
// pipeline, which turns the pairs into synthetic columns.
func ExplodeInfo(info string) map[string]string {
	out := make(map[string]string)
	if info == "" || info == "." {
		return out
	}
	for _, kv := range strings.Split(info, ";") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		} else if parts[0] != "" {
			out[parts[0]] = "true"
		}
	}
	return out
}

package utils

import "os"

// SafeEnv returns the value of key, or fallback when the variable is
// unset or empty. Config reads never distinguish the two cases.
func SafeEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package util

import (
	"testing"
)

func TestGenSecretKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := GenSecretKey()
		if err != nil {
			t.Fatalf("GenSecretKey: %v", err)
		}
		if len(key) != secretKeyLength {
			t.Fatalf("expected %d chars, got %d", secretKeyLength, len(key))
		}
		for _, r := range key {
			if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
				t.Fatalf("non-alphanumeric rune %q in %q", r, key)
			}
		}
		if seen[key] {
			t.Fatalf("duplicate key %q", key)
		}
		seen[key] = true
	}
}

package utils

import (
	"os"
)

// PathExist check if the directory or file exists.
func PathExist(path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}
	return true
}

func MinU64(a, b uint64) uint64 {
	if a > b {
		return b
	}
	return a
}

func MaxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

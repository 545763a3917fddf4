package upload

import "github.com/google/uuid"

// Allocate returns existing when set, otherwise a new random UUID.
func Allocate(existing string) string {
	if existing != "" {
		return existing
	}
	return uuid.NewString()
}

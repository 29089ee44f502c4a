package upload

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var storedNamePattern = regexp.MustCompile(`^[a-f0-9]{32}\.(png|jpg|jpeg)$`)

// generateStoredName returns 32 lowercase hex characters of a random UUID
// followed by the lower-cased extension.
func generateStoredName(ext string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(id[:]) + strings.ToLower(ext), nil
}

// IsStoredName reports whether name has the shape of a gatekeeper-generated
// file name. Anything else must never be served.
func IsStoredName(name string) bool {
	return storedNamePattern.MatchString(name)
}

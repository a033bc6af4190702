package util

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NewPasteID returns a random (version 4) UUID: 122 random bits from
// crypto/rand, rendered in canonical text form.
func NewPasteID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Wrap(err, "rand fail")
	}
	return u.String(), nil
}

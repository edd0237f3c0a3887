/*
Package randx provides cryptographically secure random identifiers.

It generates fixed-length Base62 party codes and standard UUID message IDs.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the number of characters in the Base62 set (62).
	Base62Len = int64(len(Base62Chars))

	// PartyCodeLength is the fixed length of a generated party code.
	PartyCodeLength = 6
)

// PartyCode generates a Base62 party code of PartyCodeLength characters
// using crypto/rand.
func PartyCode() (string, error) {
	result := make([]byte, PartyCodeLength)

	for i := range PartyCodeLength {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for party code: %v", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// MessageID generates a UUID v4 string used as a unique message identifier.
func MessageID() string {
	return uuid.New().String()
}

// IsValidPartyCode reports whether code has the expected length and contains
// only Base62 characters.
func IsValidPartyCode(code string) bool {
	if len(code) != PartyCodeLength {
		return false
	}

	for _, char := range code {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

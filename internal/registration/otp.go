package registration

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	codeMin = 100000
	codeMax = 999999
)

var codeSpan = big.NewInt(codeMax - codeMin + 1)

// generateCode draws a 6-digit code uniformly from [100000, 999999].
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpan)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

func hashCode(code string, cost int) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return nil, fmt.Errorf("hash otp: %w", err)
	}
	return hash, nil
}

func codeMatches(hash []byte, code string) (bool, error) {
	err := bcrypt.CompareHashAndPassword(hash, []byte(code))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

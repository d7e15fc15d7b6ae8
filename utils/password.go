package utils

import "golang.org/x/crypto/bcrypt"

const minPasswordLength = 8

func HashPassword(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

func ComparePassword(hashed string, normal string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(normal)); err != nil {
		return ErrUnauthorized
	}
	return nil
}

func IsStrongEnoughPassword(s string) bool {
	return len(s) >= minPasswordLength
}

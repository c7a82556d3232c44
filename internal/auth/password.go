package auth

import "golang.org/x/crypto/bcrypt"

// Cost 12 keeps hashing around 250ms on current hardware, slow enough to
// blunt offline cracking without making login sluggish.
const bcryptCost = 12

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func ComparePassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

package auth

import "golang.org/x/crypto/bcrypt"

// HashPassword derives the bcrypt hash the admin credential is configured
// with (ADMIN_PASSWORD_HASH).
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePassword checks a login attempt against the stored hash. A nil
// return means the password matches.
func ComparePassword(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}

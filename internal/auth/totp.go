package auth

import (
	"fmt"

	"github.com/pquerna/otp/totp"
)

// GenerateTOTPSecret provisions a new TOTP second factor for a farmer
// account and returns the secret plus the otpauth:// enrollment URL.
func GenerateTOTPSecret(email string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "cattle-backend",
		AccountName: email,
	})
	if err != nil {
		return "", "", fmt.Errorf("auth: generate totp secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTP checks a one-time code against the stored secret.
func ValidateTOTP(secret, code string) bool {
	return totp.Validate(code, secret)
}

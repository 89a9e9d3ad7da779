package steam

import (
	"encoding/base64"
	"fmt"
)

func validateCredentials(credentials *Credentials) error {
	if credentials.Username == "" {
		return UsernameEmptyError
	}
	if credentials.Password == "" {
		return PasswordEmptyError
	}

	for name, secret := range map[string]string{
		"shared secret":   credentials.SharedSecret,
		"identity secret": credentials.IdentitySecret,
	} {
		if secret == "" {
			continue
		}
		if _, err := base64.StdEncoding.DecodeString(secret); err != nil {
			return fmt.Errorf("%s is not valid base64: %w", name, err)
		}
	}

	return nil
}

package backendfake

import (
	"errors"
	"fmt"
)

var errUnknownUser = errors.New("unknown user")

func errNotAllowed(email string) error {
	return fmt.Errorf("User %s is not authorized", email)
}

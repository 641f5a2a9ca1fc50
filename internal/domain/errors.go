package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownAccountType means an account carries the oracle magic number
// but a type tag outside the known set.
var ErrUnknownAccountType = errors.New("unknown account type")

// AccountTypeError reports the offending account and tag.
type AccountTypeError struct {
	Key  PublicKey
	Type AccountType
}

func (e *AccountTypeError) Error() string {
	return fmt.Sprintf("account %s: %s %d", e.Key, ErrUnknownAccountType, uint32(e.Type))
}

func (e *AccountTypeError) Unwrap() error {
	return ErrUnknownAccountType
}

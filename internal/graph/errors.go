package graph

import (
	"errors"
	"fmt"

	"oracle-monitor/internal/domain"
)

var (
	// ErrUnresolvedPrice means a live price update arrived for an account no
	// product points to. Traversal missed it or the transport lost coverage.
	ErrUnresolvedPrice = errors.New("price account not linked to any product")

	// ErrRetiredPrice means the price account used to belong to a product that
	// has since moved to a different price account.
	ErrRetiredPrice = errors.New("price account retired")
)

// UnresolvedPriceError carries the price account that could not be attributed.
type UnresolvedPriceError struct {
	Key domain.PublicKey
}

func (e *UnresolvedPriceError) Error() string {
	return fmt.Sprintf("price %s: %s", e.Key, ErrUnresolvedPrice)
}

func (e *UnresolvedPriceError) Unwrap() error {
	return ErrUnresolvedPrice
}

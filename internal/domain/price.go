package domain

import "math"

// PriceStatus is the trading status of a price or publisher contribution.
type PriceStatus uint32

const (
	PriceStatusUnknown PriceStatus = 0
	PriceStatusTrading PriceStatus = 1
	PriceStatusHalted  PriceStatus = 2
	PriceStatusAuction PriceStatus = 3
	PriceStatusIgnored PriceStatus = 4
)

// String returns the status name.
func (s PriceStatus) String() string {
	switch s {
	case PriceStatusTrading:
		return "trading"
	case PriceStatusHalted:
		return "halted"
	case PriceStatusAuction:
		return "auction"
	case PriceStatusIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// PriceInfo is a price observation at a slot. Price and Confidence are
// already scaled by the record exponent.
type PriceInfo struct {
	Price       float64
	Confidence  float64
	Status      PriceStatus
	PublishSlot int64
}

// PublisherComponent is one publisher's entry in a price account.
type PublisherComponent struct {
	Publisher PublicKey
	// Aggregate is the contribution as last folded into the aggregate.
	Aggregate PriceInfo
	// Latest is the most recent value the publisher submitted.
	Latest PriceInfo
}

// PriceRecord is a decoded price account.
type PriceRecord struct {
	Exponent   int32
	Product    PublicKey
	Aggregate  PriceInfo
	Components []PublisherComponent
	Next       *PublicKey
}

func (*PriceRecord) accountType() AccountType { return AccountTypePrice }

// Scale converts a raw fixed point value into a float using exponent.
func Scale(raw int64, exponent int32) float64 {
	return float64(raw) * math.Pow10(int(exponent))
}

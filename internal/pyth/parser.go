// Package pyth decodes oracle program accounts (layout version 2).
package pyth

import (
	"encoding/binary"
	"errors"
	"fmt"

	"oracle-monitor/internal/domain"
)

// Magic identifies accounts written by the oracle program.
const Magic uint32 = 0xa1b2c3d4

// Version is the account layout version this parser understands.
const Version uint32 = 2

// Layout offsets.
const (
	headerSize = 16

	mappingNumOffset      = 16
	mappingNextOffset     = 24
	mappingProductsOffset = 56

	productPriceOffset = 16
	productAttrsOffset = 48

	priceExponentOffset      = 20
	priceNumComponentsOffset = 24
	priceProductOffset       = 112
	priceNextOffset          = 144
	priceAggregateOffset     = 208
	priceComponentsOffset    = 240

	priceInfoSize = 32
	componentSize = 96
)

// ErrTruncated is returned when the account data is shorter than its layout requires.
var ErrTruncated = errors.New("account data truncated")

// Parser decodes raw account bytes into domain records.
type Parser struct{}

// NewParser creates a new parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes data. Accounts without the magic number and test accounts
// decode to *domain.InertAccount; a magic account with an unknown type tag
// decodes to *domain.UnrecognizedAccount. Errors are only returned for
// truncated records of a known type.
func (p *Parser) Parse(data []byte) (domain.Account, error) {
	if len(data) < headerSize || binary.LittleEndian.Uint32(data[0:4]) != Magic {
		return &domain.InertAccount{}, nil
	}

	accType := domain.AccountType(binary.LittleEndian.Uint32(data[8:12]))

	// The used size bounds variable-length sections; trailing bytes are padding.
	size := int(binary.LittleEndian.Uint32(data[12:16]))
	if size < headerSize || size > len(data) {
		size = len(data)
	}
	data = data[:size]

	switch accType {
	case domain.AccountTypeMapping:
		return parseMapping(data)
	case domain.AccountTypeProduct:
		return parseProduct(data)
	case domain.AccountTypePrice:
		return parsePrice(data)
	case domain.AccountTypeTest:
		return &domain.InertAccount{Type: accType}, nil
	default:
		return &domain.UnrecognizedAccount{Type: accType}, nil
	}
}

func parseMapping(data []byte) (*domain.MappingRecord, error) {
	if len(data) < mappingProductsOffset {
		return nil, fmt.Errorf("mapping: %w", ErrTruncated)
	}

	num := int(binary.LittleEndian.Uint32(data[mappingNumOffset:]))
	rec := &domain.MappingRecord{
		Next:     optionalKey(data[mappingNextOffset:]),
		Products: make([]domain.PublicKey, 0, num),
	}

	offset := mappingProductsOffset
	for i := 0; i < num; i++ {
		if offset+domain.PublicKeyLength > len(data) {
			return nil, fmt.Errorf("mapping product %d: %w", i, ErrTruncated)
		}
		key := domain.PublicKeyFromBytes(data[offset:])
		offset += domain.PublicKeyLength
		if key.IsNull() {
			continue
		}
		rec.Products = append(rec.Products, key)
	}

	return rec, nil
}

func parseProduct(data []byte) (*domain.ProductRecord, error) {
	if len(data) < productAttrsOffset {
		return nil, fmt.Errorf("product: %w", ErrTruncated)
	}

	rec := &domain.ProductRecord{
		PriceAccount: domain.PublicKeyFromBytes(data[productPriceOffset:]),
		Attributes:   make(map[string]string),
	}

	// Attributes: repeated (u8 len, key bytes, u8 len, value bytes).
	offset := productAttrsOffset
	for offset < len(data) {
		key, next, ok := readString(data, offset)
		if !ok || key == "" {
			break
		}
		value, next, ok := readString(data, next)
		if !ok {
			return nil, fmt.Errorf("product attribute %q: %w", key, ErrTruncated)
		}
		rec.Attributes[key] = value
		offset = next
	}
	rec.Symbol = rec.Attributes["symbol"]

	return rec, nil
}

func parsePrice(data []byte) (*domain.PriceRecord, error) {
	if len(data) < priceComponentsOffset {
		return nil, fmt.Errorf("price: %w", ErrTruncated)
	}

	exponent := int32(binary.LittleEndian.Uint32(data[priceExponentOffset:]))
	num := int(binary.LittleEndian.Uint32(data[priceNumComponentsOffset:]))

	rec := &domain.PriceRecord{
		Exponent:   exponent,
		Product:    domain.PublicKeyFromBytes(data[priceProductOffset:]),
		Next:       optionalKey(data[priceNextOffset:]),
		Aggregate:  readPriceInfo(data[priceAggregateOffset:], exponent),
		Components: make([]domain.PublisherComponent, 0, num),
	}

	offset := priceComponentsOffset
	for i := 0; i < num; i++ {
		if offset+componentSize > len(data) {
			return nil, fmt.Errorf("price component %d: %w", i, ErrTruncated)
		}
		publisher := domain.PublicKeyFromBytes(data[offset:])
		if !publisher.IsNull() {
			rec.Components = append(rec.Components, domain.PublisherComponent{
				Publisher: publisher,
				Aggregate: readPriceInfo(data[offset+domain.PublicKeyLength:], exponent),
				Latest:    readPriceInfo(data[offset+domain.PublicKeyLength+priceInfoSize:], exponent),
			})
		}
		offset += componentSize
	}

	return rec, nil
}

// readPriceInfo decodes price(i64) conf(u64) status(u32) corp_act(u32) pub_slot(u64).
func readPriceInfo(b []byte, exponent int32) domain.PriceInfo {
	return domain.PriceInfo{
		Price:       domain.Scale(int64(binary.LittleEndian.Uint64(b[0:8])), exponent),
		Confidence:  domain.Scale(int64(binary.LittleEndian.Uint64(b[8:16])), exponent),
		Status:      domain.PriceStatus(binary.LittleEndian.Uint32(b[16:20])),
		PublishSlot: int64(binary.LittleEndian.Uint64(b[24:32])),
	}
}

func readString(data []byte, offset int) (string, int, bool) {
	if offset >= len(data) {
		return "", offset, false
	}
	n := int(data[offset])
	start := offset + 1
	if start+n > len(data) {
		return "", offset, false
	}
	return string(data[start : start+n]), start + n, true
}

func optionalKey(b []byte) *domain.PublicKey {
	key := domain.PublicKeyFromBytes(b)
	if key.IsNull() {
		return nil
	}
	return &key
}

package pyth

import (
	"encoding/binary"
	"math"
	"sort"

	"oracle-monitor/internal/domain"
)

// Encoders for building account data in tests and local fixtures. They
// write the same layout Parse reads; prices are given already scaled and
// are converted back using the exponent.

// EncodeMapping builds a mapping account.
func EncodeMapping(products []domain.PublicKey, next *domain.PublicKey) []byte {
	size := mappingProductsOffset + len(products)*domain.PublicKeyLength
	buf := make([]byte, size)
	writeHeader(buf, domain.AccountTypeMapping)
	binary.LittleEndian.PutUint32(buf[mappingNumOffset:], uint32(len(products)))
	if next != nil {
		copy(buf[mappingNextOffset:], next[:])
	}
	for i, p := range products {
		copy(buf[mappingProductsOffset+i*domain.PublicKeyLength:], p[:])
	}
	return buf
}

// EncodeProduct builds a product account with a symbol attribute plus attrs.
func EncodeProduct(symbol string, priceAccount domain.PublicKey, attrs map[string]string) []byte {
	buf := make([]byte, productAttrsOffset)
	copy(buf[productPriceOffset:], priceAccount[:])

	all := map[string]string{"symbol": symbol}
	for k, v := range attrs {
		all[k] = v
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf = append(buf, byte(len(k)))
		buf = append(buf, k...)
		buf = append(buf, byte(len(all[k])))
		buf = append(buf, all[k]...)
	}

	writeHeader(buf, domain.AccountTypeProduct)
	return buf
}

// EncodePrice builds a price account from rec.
func EncodePrice(rec *domain.PriceRecord) []byte {
	size := priceComponentsOffset + len(rec.Components)*componentSize
	buf := make([]byte, size)
	writeHeader(buf, domain.AccountTypePrice)
	binary.LittleEndian.PutUint32(buf[priceExponentOffset:], uint32(rec.Exponent))
	binary.LittleEndian.PutUint32(buf[priceNumComponentsOffset:], uint32(len(rec.Components)))
	copy(buf[priceProductOffset:], rec.Product[:])
	if rec.Next != nil {
		copy(buf[priceNextOffset:], rec.Next[:])
	}
	writePriceInfo(buf[priceAggregateOffset:], rec.Aggregate, rec.Exponent)
	for i, c := range rec.Components {
		off := priceComponentsOffset + i*componentSize
		copy(buf[off:], c.Publisher[:])
		writePriceInfo(buf[off+domain.PublicKeyLength:], c.Aggregate, rec.Exponent)
		writePriceInfo(buf[off+domain.PublicKeyLength+priceInfoSize:], c.Latest, rec.Exponent)
	}
	return buf
}

// EncodeHeader builds a bare account carrying only a header with type t.
func EncodeHeader(t domain.AccountType) []byte {
	buf := make([]byte, headerSize)
	writeHeader(buf, t)
	return buf
}

func writeHeader(buf []byte, t domain.AccountType) {
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], Version)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(t))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(buf)))
}

func writePriceInfo(b []byte, info domain.PriceInfo, exponent int32) {
	binary.LittleEndian.PutUint64(b[0:8], uint64(unscale(info.Price, exponent)))
	binary.LittleEndian.PutUint64(b[8:16], uint64(unscale(info.Confidence, exponent)))
	binary.LittleEndian.PutUint32(b[16:20], uint32(info.Status))
	binary.LittleEndian.PutUint64(b[24:32], uint64(info.PublishSlot))
}

func unscale(v float64, exponent int32) int64 {
	return int64(math.Round(v / math.Pow10(int(exponent))))
}

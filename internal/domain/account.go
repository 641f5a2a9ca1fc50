package domain

// AccountType is the record-type tag stored in every oracle account header.
type AccountType uint32

// Known account type tags.
const (
	AccountTypeMapping AccountType = 1
	AccountTypeProduct AccountType = 2
	AccountTypePrice   AccountType = 3
	AccountTypeTest    AccountType = 4
)

// String returns a human readable tag name.
func (t AccountType) String() string {
	switch t {
	case AccountTypeMapping:
		return "mapping"
	case AccountTypeProduct:
		return "product"
	case AccountTypePrice:
		return "price"
	case AccountTypeTest:
		return "test"
	default:
		return "unknown"
	}
}

// Account is the decoded form of an oracle-owned account. It is one of
// *MappingRecord, *ProductRecord, *PriceRecord, *InertAccount or
// *UnrecognizedAccount.
type Account interface {
	accountType() AccountType
}

// KeyedAccount pairs raw account data with its address.
type KeyedAccount struct {
	Key  PublicKey
	Data []byte
	Slot int64
}

// MappingRecord lists product accounts. Next links to a further mapping page.
type MappingRecord struct {
	Products []PublicKey
	Next     *PublicKey
}

func (*MappingRecord) accountType() AccountType { return AccountTypeMapping }

// ProductRecord describes a symbol and points to its price account.
type ProductRecord struct {
	Symbol     string
	Attributes map[string]string
	// PriceAccount is NullKey while the product has no price account.
	PriceAccount PublicKey
}

func (*ProductRecord) accountType() AccountType { return AccountTypeProduct }

// HasPriceAccount reports whether the product references a price account.
func (p *ProductRecord) HasPriceAccount() bool {
	return !p.PriceAccount.IsNull()
}

// InertAccount is owned by the program but needs no handling: accounts
// without the oracle magic number and test accounts.
type InertAccount struct {
	Type AccountType
}

func (a *InertAccount) accountType() AccountType { return a.Type }

// UnrecognizedAccount carries the oracle magic number but a type tag this
// build does not know. It means the on-chain layout moved ahead of us.
type UnrecognizedAccount struct {
	Type AccountType
}

func (a *UnrecognizedAccount) accountType() AccountType { return a.Type }

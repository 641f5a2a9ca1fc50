// Package graph tracks the mapping -> product -> price account structure and
// keeps subscriptions in step with it.
package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"oracle-monitor/internal/domain"
)

// Transport is the subscription side the resolver drives. Subscribe and Fetch
// only enqueue work; results come back later as change notifications.
type Transport interface {
	// FetchAll returns every account owned by the oracle program.
	FetchAll(ctx context.Context) ([]domain.KeyedAccount, error)
	// Subscribe requests change notifications for key.
	Subscribe(key domain.PublicKey)
	// Fetch requests a one-off read of key, delivered as a change notification.
	Fetch(key domain.PublicKey)
}

// Parser decodes raw account data.
type Parser interface {
	Parse(data []byte) (domain.Account, error)
}

// Stats is a point-in-time size of the resolver's view.
type Stats struct {
	Products      int
	LinkedPrices  int
	Subscriptions int
	Retired       int
}

// Resolver maintains the price account -> symbol linkage.
// It is not safe for concurrent use; all calls must come from one goroutine.
type Resolver struct {
	transport Transport
	parser    Parser
	logger    *zap.Logger

	productSymbol  map[domain.PublicKey]string
	productPrice   map[domain.PublicKey]domain.PublicKey
	priceToProduct map[domain.PublicKey]domain.PublicKey
	retired        map[domain.PublicKey]bool
	subscribed     map[domain.PublicKey]bool
	seen           map[domain.PublicKey]bool
}

// NewResolver creates a resolver. A nil logger disables logging.
func NewResolver(transport Transport, parser Parser, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		transport:      transport,
		parser:         parser,
		logger:         logger.Named("graph"),
		productSymbol:  make(map[domain.PublicKey]string),
		productPrice:   make(map[domain.PublicKey]domain.PublicKey),
		priceToProduct: make(map[domain.PublicKey]domain.PublicKey),
		retired:        make(map[domain.PublicKey]bool),
		subscribed:     make(map[domain.PublicKey]bool),
		seen:           make(map[domain.PublicKey]bool),
	}
}

// Initialize loads the program snapshot and builds the linkage from it.
// Price records are used for linkage only; nothing is forwarded for validation.
func (r *Resolver) Initialize(ctx context.Context) error {
	accounts, err := r.transport.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	// Everything in the snapshot already has data, so traversal must not
	// schedule follow-up fetches for it.
	for _, acc := range accounts {
		r.seen[acc.Key] = true
	}

	prices := make(map[domain.PublicKey]*domain.PriceRecord)
	var mappings, products int

	// Structural records first so that price linkage is complete before
	// any price is looked at.
	for _, acc := range accounts {
		parsed, err := r.parser.Parse(acc.Data)
		if err != nil {
			r.logger.Warn("skipping undecodable account", zap.Stringer("account", acc.Key), zap.Error(err))
			continue
		}
		switch rec := parsed.(type) {
		case *domain.MappingRecord:
			r.subscribe(acc.Key)
			r.ApplyMapping(acc.Key, rec)
			mappings++
		case *domain.ProductRecord:
			r.subscribe(acc.Key)
			r.ApplyProduct(acc.Key, rec)
			products++
		case *domain.PriceRecord:
			// Subscribed by linkage, so an orphan never produces live updates.
			prices[acc.Key] = rec
		case *domain.UnrecognizedAccount:
			return &domain.AccountTypeError{Key: acc.Key, Type: rec.Type}
		case *domain.InertAccount:
		}
	}

	orphans := r.linkPrices(prices)
	for key := range orphans {
		r.logger.Warn("snapshot price account has no product, not subscribing", zap.Stringer("price", key))
	}

	r.logger.Info("snapshot resolved",
		zap.Int("accounts", len(accounts)),
		zap.Int("mappings", mappings),
		zap.Int("products", products),
		zap.Int("prices", len(prices)),
		zap.Int("orphans", len(orphans)),
	)
	return nil
}

// linkPrices propagates product ownership along price continuation chains
// with a work list, so chain order in the snapshot does not matter.
// It returns the prices that could not be attributed.
func (r *Resolver) linkPrices(prices map[domain.PublicKey]*domain.PriceRecord) map[domain.PublicKey]*domain.PriceRecord {
	pending := make(map[domain.PublicKey]*domain.PriceRecord, len(prices))
	var work []domain.PublicKey
	for key, rec := range prices {
		if _, ok := r.priceToProduct[key]; ok {
			work = append(work, key)
		} else {
			pending[key] = rec
		}
	}

	for len(work) > 0 {
		key := work[len(work)-1]
		work = work[:len(work)-1]

		rec := prices[key]
		if rec.Next == nil {
			continue
		}
		next := *rec.Next
		r.priceToProduct[next] = r.priceToProduct[key]
		r.subscribe(next)
		if _, ok := pending[next]; ok {
			delete(pending, next)
			work = append(work, next)
		}
	}

	return pending
}

// ApplyMapping subscribes to every product the mapping lists and to its continuation.
func (r *Resolver) ApplyMapping(key domain.PublicKey, rec *domain.MappingRecord) {
	r.seen[key] = true
	for _, product := range rec.Products {
		r.subscribe(product)
	}
	if rec.Next != nil {
		r.subscribe(*rec.Next)
	}
}

// ApplyProduct records the product's symbol and links its price account.
// If the product now points elsewhere, the previous price chain is retired.
func (r *Resolver) ApplyProduct(key domain.PublicKey, rec *domain.ProductRecord) {
	r.seen[key] = true
	r.productSymbol[key] = rec.Symbol

	prev, hadPrice := r.productPrice[key]
	if hadPrice && (prev != rec.PriceAccount || !rec.HasPriceAccount()) {
		r.retire(key)
	}

	if !rec.HasPriceAccount() {
		return
	}

	r.productPrice[key] = rec.PriceAccount
	r.priceToProduct[rec.PriceAccount] = key
	delete(r.retired, rec.PriceAccount)
	r.subscribe(rec.PriceAccount)
}

// retire drops every price account currently attributed to product.
func (r *Resolver) retire(product domain.PublicKey) {
	for price, owner := range r.priceToProduct {
		if owner != product {
			continue
		}
		delete(r.priceToProduct, price)
		r.retired[price] = true
		r.logger.Info("price account retired",
			zap.Stringer("price", price),
			zap.Stringer("product", product),
			zap.String("symbol", r.productSymbol[product]),
		)
	}
	delete(r.productPrice, product)
}

// ResolvePrice returns the symbol owning a live price update and extends the
// linkage to its continuation account. It returns an *UnresolvedPriceError
// when no product owns key, or ErrRetiredPrice when its product moved on.
func (r *Resolver) ResolvePrice(key domain.PublicKey, rec *domain.PriceRecord) (string, error) {
	r.seen[key] = true

	product, ok := r.priceToProduct[key]
	if !ok {
		if r.retired[key] {
			return "", ErrRetiredPrice
		}
		return "", &UnresolvedPriceError{Key: key}
	}

	if rec.Next != nil {
		// Linked before subscribing so a standalone change on the
		// continuation resolves to the same symbol.
		r.priceToProduct[*rec.Next] = product
		delete(r.retired, *rec.Next)
		r.subscribe(*rec.Next)
	}

	return r.productSymbol[product], nil
}

// Symbol returns the symbol a price account is currently attributed to.
func (r *Resolver) Symbol(price domain.PublicKey) (string, bool) {
	product, ok := r.priceToProduct[price]
	if !ok {
		return "", false
	}
	return r.productSymbol[product], true
}

// Subscribed reports whether key has been handed to the transport.
func (r *Resolver) Subscribed(key domain.PublicKey) bool {
	return r.subscribed[key]
}

// Stats returns the current sizes of the resolver's maps.
func (r *Resolver) Stats() Stats {
	return Stats{
		Products:      len(r.productSymbol),
		LinkedPrices:  len(r.priceToProduct),
		Subscriptions: len(r.subscribed),
		Retired:       len(r.retired),
	}
}

// subscribe hands key to the transport once. Accounts without data yet are
// also fetched so they are processed without waiting for their next change.
func (r *Resolver) subscribe(key domain.PublicKey) {
	if key.IsNull() || r.subscribed[key] {
		return
	}
	r.subscribed[key] = true
	r.transport.Subscribe(key)
	if !r.seen[key] {
		r.transport.Fetch(key)
	}
}

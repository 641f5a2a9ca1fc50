// Package router classifies account changes and dispatches them to the
// graph resolver and to price listeners.
package router

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/graph"
	"oracle-monitor/internal/observability"
)

var (
	// ErrUnknownAccountType is returned for accounts with an unrecognized type tag.
	ErrUnknownAccountType = domain.ErrUnknownAccountType
	// ErrUnresolvedPrice is returned for live price changes no product owns.
	ErrUnresolvedPrice = graph.ErrUnresolvedPrice
)

// AccountTypeError carries the account and tag behind ErrUnknownAccountType.
type AccountTypeError = domain.AccountTypeError

// IsFatal reports whether err means processing must stop: the on-chain
// layout is newer than this build, or symbol attribution is broken.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnknownAccountType) || errors.Is(err, ErrUnresolvedPrice)
}

// PriceUpdate is a live price change attributed to its symbol.
type PriceUpdate struct {
	Symbol  string
	Account domain.PublicKey
	Slot    int64
	Record  *domain.PriceRecord
}

// PriceListener receives every attributed price change.
type PriceListener interface {
	OnPriceUpdate(u PriceUpdate)
}

// PriceListenerFunc adapts a function to PriceListener.
type PriceListenerFunc func(u PriceUpdate)

// OnPriceUpdate calls f(u).
func (f PriceListenerFunc) OnPriceUpdate(u PriceUpdate) { f(u) }

// Router is the single entry point for account changes.
// It is not safe for concurrent use.
type Router struct {
	parser    graph.Parser
	resolver  *graph.Resolver
	listeners []PriceListener
	logger    *zap.Logger
}

// New creates a router dispatching to resolver. A nil logger disables logging.
func New(parser graph.Parser, resolver *graph.Resolver, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		parser:   parser,
		resolver: resolver,
		logger:   logger.Named("router"),
	}
}

// AddListener registers l for price updates. Listeners run in registration order.
func (r *Router) AddListener(l PriceListener) {
	r.listeners = append(r.listeners, l)
}

// Initialize builds the resolver's view from a fresh snapshot.
func (r *Router) Initialize(ctx context.Context) error {
	if err := r.resolver.Initialize(ctx); err != nil {
		return err
	}
	r.publishGraphStats()
	return nil
}

// OnAccountChanged handles one change notification. Errors satisfying
// IsFatal must stop processing; no other error is returned.
func (r *Router) OnAccountChanged(key domain.PublicKey, data []byte, slot int64) error {
	start := time.Now()

	parsed, err := r.parser.Parse(data)
	if err != nil {
		r.logger.Warn("dropping undecodable account",
			zap.Stringer("account", key), zap.Int64("slot", slot), zap.Error(err))
		return nil
	}

	var label string
	switch rec := parsed.(type) {
	case *domain.InertAccount:
		return nil

	case *domain.UnrecognizedAccount:
		return &AccountTypeError{Key: key, Type: rec.Type}

	case *domain.MappingRecord:
		label = domain.AccountTypeMapping.String()
		r.resolver.ApplyMapping(key, rec)
		r.publishGraphStats()

	case *domain.ProductRecord:
		label = domain.AccountTypeProduct.String()
		r.resolver.ApplyProduct(key, rec)
		r.publishGraphStats()

	case *domain.PriceRecord:
		label = domain.AccountTypePrice.String()
		symbol, err := r.resolver.ResolvePrice(key, rec)
		if errors.Is(err, graph.ErrRetiredPrice) {
			r.logger.Debug("ignoring retired price account", zap.Stringer("price", key))
			return nil
		}
		if err != nil {
			return err
		}
		u := PriceUpdate{Symbol: symbol, Account: key, Slot: slot, Record: rec}
		for _, l := range r.listeners {
			l.OnPriceUpdate(u)
		}
	}

	observability.RecordAccountUpdate(label, slot, time.Since(start))
	return nil
}

func (r *Router) publishGraphStats() {
	s := r.resolver.Stats()
	observability.UpdateGraph(s.Subscriptions, s.LinkedPrices)
}

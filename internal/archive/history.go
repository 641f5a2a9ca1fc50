package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/sink"
	"oracle-monitor/internal/validation"
)

// ErrInvalidArchive is returned for archive files that cannot be decoded.
var ErrInvalidArchive = errors.New("invalid archive")

// Quote is one archived price observation.
type Quote struct {
	Price      float64 `json:"price"`
	Confidence float64 `json:"confidence"`
	Status     Status  `json:"status"`
	Slot       int64   `json:"slot"`
}

// Entry is one archived price account state for a symbol.
type Entry struct {
	Slot             int64            `json:"slot"`
	Aggregate        Quote            `json:"aggregate"`
	QuoterAggregates map[string]Quote `json:"quoter_aggregates"`
}

// Status accepts either the numeric status code or its name.
type Status domain.PriceStatus

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		switch strings.ToLower(name) {
		case "trading":
			*s = Status(domain.PriceStatusTrading)
		case "halted":
			*s = Status(domain.PriceStatusHalted)
		case "auction":
			*s = Status(domain.PriceStatusAuction)
		case "ignored":
			*s = Status(domain.PriceStatusIgnored)
		case "unknown", "":
			*s = Status(domain.PriceStatusUnknown)
		default:
			return fmt.Errorf("unknown price status %q", name)
		}
		return nil
	}

	n, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		return fmt.Errorf("price status %s: %w", b, err)
	}
	*s = Status(n)
	return nil
}

func (q Quote) info() domain.PriceInfo {
	return domain.PriceInfo{
		Price:       q.Price,
		Confidence:  q.Confidence,
		Status:      domain.PriceStatus(q.Status),
		PublishSlot: q.Slot,
	}
}

// Record converts e to the price record shape the validator consumes.
// Publishers are ordered by key so replays are deterministic.
func (e Entry) Record() (*domain.PriceRecord, error) {
	rec := &domain.PriceRecord{Aggregate: e.Aggregate.info()}
	if rec.Aggregate.PublishSlot == 0 {
		rec.Aggregate.PublishSlot = e.Slot
	}

	keys := make([]string, 0, len(e.QuoterAggregates))
	for k := range e.QuoterAggregates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		pub, err := domain.ParsePublicKey(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		q := e.QuoterAggregates[k].info()
		rec.Components = append(rec.Components, domain.PublisherComponent{
			Publisher: pub,
			Aggregate: q,
			Latest:    q,
		})
	}
	return rec, nil
}

// Summary counts what a replay processed.
type Summary struct {
	Files   int
	Entries int
	Events  int
}

// History replays an archive directory through one validator per symbol.
//
// The directory holds subdirectories that sort chronologically (for example
// per-hour shards named by date), each with one <SYMBOL>.json file holding a
// JSON array of entries.
type History struct {
	cfg    validation.Config
	out    io.Writer
	logger *zap.Logger
	sinks  []validation.Sink

	engines map[string]*validation.Engine
}

// NewHistory creates a replay writing one line per event to out. out may be nil.
func NewHistory(cfg validation.Config, out io.Writer, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{
		cfg:     cfg,
		out:     out,
		logger:  logger.Named("history"),
		engines: make(map[string]*validation.Engine),
	}
}

// AddSink registers s on every per-symbol validator.
func (h *History) AddSink(s validation.Sink) {
	h.sinks = append(h.sinks, s)
}

// Run replays dir in order.
func (h *History) Run(ctx context.Context, dir string) (Summary, error) {
	var sum Summary

	shards, err := os.ReadDir(dir)
	if err != nil {
		return sum, fmt.Errorf("read archive dir: %w", err)
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].Name() < shards[j].Name() })

	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardDir := filepath.Join(dir, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			return sum, fmt.Errorf("read shard %s: %w", shard.Name(), err)
		}
		sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
				continue
			}
			if err := ctx.Err(); err != nil {
				return sum, err
			}

			symbol, _, _ := strings.Cut(f.Name(), ".")
			entries, err := readEntries(filepath.Join(shardDir, f.Name()))
			if err != nil {
				return sum, err
			}
			sum.Files++

			n, err := h.replay(symbol, entries)
			if err != nil {
				return sum, fmt.Errorf("%s/%s: %w", shard.Name(), f.Name(), err)
			}
			sum.Entries += len(entries)
			sum.Events += n
		}
	}

	h.logger.Info("replay complete",
		zap.Int("files", sum.Files),
		zap.Int("entries", sum.Entries),
		zap.Int("events", sum.Events))
	return sum, nil
}

func (h *History) replay(symbol string, entries []Entry) (int, error) {
	engine := h.engine(symbol)

	events := 0
	for _, e := range entries {
		rec, err := e.Record()
		if err != nil {
			return events, err
		}
		for _, ev := range engine.Evaluate(symbol, rec) {
			ev.Slot = e.Slot
			events++
			if h.out != nil {
				fmt.Fprintln(h.out, sink.FormatLine(ev))
			}
			for _, snk := range h.sinks {
				snk.OnValidationEvent(symbol, ev)
			}
		}
	}
	return events, nil
}

func (h *History) engine(symbol string) *validation.Engine {
	e, ok := h.engines[symbol]
	if !ok {
		e = validation.NewEngine(h.cfg, h.logger)
		h.engines[symbol] = e
	}
	return e
}

func readEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, path, err)
	}
	return entries, nil
}

// Package snapshot implements the startup cache warm-up: caches are
// initialized empty and populated from a snapshot fetch before the engine
// accepts any ticks. It exposes a single Fetcher interface with an
// S3-backed implementation (the R2-compatible object store also used for
// cold backups pulls in the same aws-sdk-go-v2 S3 client dependency) and
// a local msgpack-file implementation for single-node deployments and
// tests.
package snapshot

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/rtve/internal/domain"
)

// ProductCurrency registers a product's settlement currency with the FX
// cache, mirroring fxcache.Cache.RegisterProductCurrency.
type ProductCurrency struct {
	ProductID int64
	Currency  string
}

// AccountPositions is one account's full position set, fed through
// positioncache.Cache.BulkReplace.
type AccountPositions struct {
	AccountID int64
	Positions []domain.PositionDelta
}

// Snapshot is the cold-load payload handed to the composition root,
// already converted to domain types.
type Snapshot struct {
	TakenAt           time.Time
	Ticks             []domain.PriceTick
	Rates             []domain.FxRate
	ProductCurrencies []ProductCurrency
	Accounts          []AccountPositions
}

// Fetcher retrieves a cold-load snapshot at startup.
type Fetcher interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// wireSnapshot is the on-the-wire msgpack shape. decimal.Decimal does
// not round trip through vmihailenco/msgpack's default reflection-based
// codec, so every decimal-carrying field is a string here and converted
// on the way into a Snapshot — the same wire-DTO-at-the-boundary split
// intake uses for its JSON payloads.
type wireSnapshot struct {
	TakenAt           time.Time              `msgpack:"takenAt"`
	Ticks             []wirePriceTick        `msgpack:"ticks"`
	Rates             []wireFxRate           `msgpack:"rates"`
	ProductCurrencies []ProductCurrency      `msgpack:"productCurrencies"`
	Accounts          []wireAccountPositions `msgpack:"accounts"`
}

type wirePriceTick struct {
	ProductID      int64     `msgpack:"productId"`
	Price          string    `msgpack:"price"`
	Currency       string    `msgpack:"currency"`
	AssetClass     string    `msgpack:"assetClass"`
	SourcePriority int       `msgpack:"sourcePriority"`
	Timestamp      time.Time `msgpack:"timestamp"`
	Stale          bool      `msgpack:"stale"`
}

type wireFxRate struct {
	Pair      string    `msgpack:"pair"`
	Rate      string    `msgpack:"rate"`
	Timestamp time.Time `msgpack:"timestamp"`
}

type wirePositionDelta struct {
	AccountID int64  `msgpack:"accountId"`
	ProductID int64  `msgpack:"productId"`
	Quantity  string `msgpack:"quantity"`
}

type wireAccountPositions struct {
	AccountID int64               `msgpack:"accountId"`
	Positions []wirePositionDelta `msgpack:"positions"`
}

func (w wireSnapshot) toSnapshot() (Snapshot, error) {
	out := Snapshot{
		TakenAt:           w.TakenAt,
		Ticks:             make([]domain.PriceTick, 0, len(w.Ticks)),
		Rates:             make([]domain.FxRate, 0, len(w.Rates)),
		ProductCurrencies: w.ProductCurrencies,
		Accounts:          make([]AccountPositions, 0, len(w.Accounts)),
	}

	for _, t := range w.Ticks {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return Snapshot{}, err
		}
		out.Ticks = append(out.Ticks, domain.PriceTick{
			ProductID:      t.ProductID,
			Price:          price,
			Currency:       t.Currency,
			AssetClass:     domain.AssetClass(t.AssetClass),
			SourcePriority: t.SourcePriority,
			Timestamp:      t.Timestamp,
			Stale:          t.Stale,
		})
	}

	for _, r := range w.Rates {
		rate, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return Snapshot{}, err
		}
		out.Rates = append(out.Rates, domain.FxRate{Pair: r.Pair, Rate: rate, Timestamp: r.Timestamp})
	}

	for _, a := range w.Accounts {
		positions := make([]domain.PositionDelta, 0, len(a.Positions))
		for _, p := range a.Positions {
			qty, err := decimal.NewFromString(p.Quantity)
			if err != nil {
				return Snapshot{}, err
			}
			positions = append(positions, domain.PositionDelta{AccountID: p.AccountID, ProductID: p.ProductID, Quantity: qty})
		}
		out.Accounts = append(out.Accounts, AccountPositions{AccountID: a.AccountID, Positions: positions})
	}

	return out, nil
}

package intake

import "time"

// Wire DTOs mirror the broker's length-prefixed JSON record shapes exactly.
// They are decoded first and converted to internal/domain types only
// after validation succeeds, keeping wire shapes flat and separate from
// internal models.

type wirePriceTick struct {
	ProductID      int64     `json:"productId"`
	Price          string    `json:"price"`
	Currency       string    `json:"currency"`
	AssetClass     string    `json:"assetClass"`
	SourcePriority int       `json:"sourcePriority"`
	Timestamp      time.Time `json:"timestamp"`
}

type wireFxRate struct {
	Pair      string    `json:"pair"`
	Rate      string    `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

type wirePositionDelta struct {
	AccountID int64  `json:"accountId"`
	ProductID int64  `json:"productId"`
	Quantity  string `json:"quantity"`
}

type wireEodSnapshot struct {
	AccountID    int64               `json:"accountId"`
	BusinessDate string              `json:"businessDate"`
	Positions    []wirePositionDelta `json:"positions"`
}

var validAssetClasses = map[string]bool{
	"EQUITY": true, "FX": true, "CASH": true,
	"FX_FORWARD": true, "EQUITY_SWAP": true, "BOND": true,
}

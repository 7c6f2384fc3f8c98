// Package ingest normalizes raw brokerage order payloads into canonical
// ledger fills.
package ingest

// Order is the raw brokerage order payload shape: an order header with one
// or more legs plus execution activity. Optional numeric fields are pointers
// so absence is distinguishable from zero.
type Order struct {
	OrderID           *int64          `json:"orderId"`
	Symbol            string          `json:"symbol"`
	Quantity          float64         `json:"quantity"`
	FilledQuantity    float64         `json:"filledQuantity"`
	RemainingQuantity float64         `json:"remainingQuantity"`
	Price             float64         `json:"price"`
	Status            string          `json:"status"`
	EnteredTime       string          `json:"enteredTime"`
	CloseTime         string          `json:"closeTime"`
	OrderLegs         []OrderLeg      `json:"orderLegCollection"`
	OrderActivities   []OrderActivity `json:"orderActivityCollection"`
}

// OrderLeg carries the instrument and instruction of one leg of an order.
type OrderLeg struct {
	Instruction    string     `json:"instruction"`
	PositionEffect string     `json:"positionEffect"`
	OrderLegType   string     `json:"orderLegType"`
	Instrument     Instrument `json:"instrument"`
}

// Instrument describes the traded instrument of an order leg.
type Instrument struct {
	Symbol           string `json:"symbol"`
	UnderlyingSymbol string `json:"underlyingSymbol"`
	Description      string `json:"description"`
	AssetType        string `json:"assetType"`
}

// OrderActivity holds the execution legs of one fill event.
type OrderActivity struct {
	ExecutionLegs []ExecutionLeg `json:"executionLegs"`
}

// ExecutionLeg is one actual execution: the true fill price and quantity.
type ExecutionLeg struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Time     string  `json:"time"`
}

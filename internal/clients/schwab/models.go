package schwab

// Account is a single entry from the accounts endpoint.
type Account struct {
	SecuritiesAccount SecuritiesAccount `json:"securitiesAccount"`
}

// SecuritiesAccount holds the position list for one account.
type SecuritiesAccount struct {
	AccountNumber string     `json:"accountNumber"`
	Type          string     `json:"type"`
	Positions     []Position `json:"positions"`
}

// Position is a currently held position.
type Position struct {
	ShortQuantity  float64            `json:"shortQuantity"`
	LongQuantity   float64            `json:"longQuantity"`
	AveragePrice   float64            `json:"averagePrice"`
	MarketValue    float64            `json:"marketValue"`
	Instrument     PositionInstrument `json:"instrument"`
	CurrentDayCost float64            `json:"currentDayCost"`
}

// PositionInstrument describes the instrument of a position.
type PositionInstrument struct {
	AssetType        string `json:"assetType"`
	Symbol           string `json:"symbol"`
	Description      string `json:"description"`
	UnderlyingSymbol string `json:"underlyingSymbol"`
	PutCall          string `json:"putCall"`
}

// Quantity returns the net held quantity of the position.
func (p Position) Quantity() float64 {
	return p.LongQuantity - p.ShortQuantity
}

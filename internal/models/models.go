package models

// Quote represents one row of the 'quotes' table: the daily OHLCV record of a
// fund ticker. Dates are ISO YYYY-MM-DD strings so that lexicographic order
// equals chronological order, both in SQL and in Go.
type Quote struct {
	Date       string  `json:"date"`
	Ticker     string  `json:"ticker"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
	TradeCount int64   `json:"trade_count"`
	Quantity   int64   `json:"quantity"`
}

// Corporate action kinds.
const (
	ActionSplit        = "split"
	ActionReverseSplit = "reverse_split"
)

// CorporateAction represents the 'corporate_actions' table.
type CorporateAction struct {
	Ticker        string  `json:"ticker"`
	EffectiveDate string  `json:"effective_date"`
	Kind          string  `json:"kind"` // split | reverse_split
	Factor        float64 `json:"factor"`
	RecordedAt    string  `json:"recorded_at,omitempty"`
}

// LedgerEntry represents the 'files_processed' table: one row per ingested
// archive, keyed by archive name, carrying the MD5 of the compressed bytes.
type LedgerEntry struct {
	ArchiveName string `json:"archive_name"`
	Kind        string `json:"kind"`
	ProcessedAt string `json:"processed_at"`
	RowsAdded   int64  `json:"rows_added"`
	ContentHash string `json:"content_hash"`
}

// StoreStats summarizes the quotes table.
type StoreStats struct {
	Rows    int64  `json:"rows"`
	Tickers int64  `json:"tickers"`
	DateMin string `json:"date_min"`
	DateMax string `json:"date_max"`
}

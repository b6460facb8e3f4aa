package models

// StockInfo is the Eastmoney basic snapshot of a security.
type StockInfo struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PreviousClose float64 `json:"previous_close"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	Amount        float64 `json:"amount"` // 10k CNY
	Timestamp     string  `json:"timestamp"`
}

// FundFlowDay is one daily fund-flow kline, values in 10k CNY.
type FundFlowDay struct {
	Date           string  `json:"date"`
	MainFlow       float64 `json:"main_flow"`
	SuperLargeFlow float64 `json:"super_large_flow"`
	LargeFlow      float64 `json:"large_flow"`
	MediumFlow     float64 `json:"medium_flow"`
	SmallFlow      float64 `json:"small_flow"`
}

// FundFlow is the recent fund-flow history of one security.
type FundFlow struct {
	Code      string        `json:"code"`
	Days      []FundFlowDay `json:"fund_flows"`
	Timestamp string        `json:"timestamp"`
}

// TopFundFlowStock is one entry of the top fund-flow ranking.
type TopFundFlowStock struct {
	Rank          int     `json:"rank"`
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	TotalMainFlow float64 `json:"total_main_flow"`
	Days          int     `json:"days"`
	Timestamp     string  `json:"timestamp"`
}

// KlineBar is one daily OHLCV bar.
type KlineBar struct {
	Date          string  `json:"date"`
	Open          float64 `json:"open"`
	Close         float64 `json:"close"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Volume        int64   `json:"volume"`
	Amount        float64 `json:"amount"`
	ChangePercent float64 `json:"change_percent"`
	Turnover      float64 `json:"turnover"`
}

// Indicators holds the simplified technical indicators of a security.
type Indicators struct {
	RSI               float64 `json:"rsi"`
	MACD              float64 `json:"macd"`
	BollingerPosition float64 `json:"bollinger_position"`
	VolumeRatio       float64 `json:"volume_ratio"`
}

// FundFlowEstimate is a volume-derived estimate of net inflow, in CNY.
type FundFlowEstimate struct {
	MainNetInflow     float64 `json:"main_net_inflow"`
	LargeOrderInflow  float64 `json:"large_order_inflow"`
	MediumOrderInflow float64 `json:"medium_order_inflow"`
	SmallOrderInflow  float64 `json:"small_order_inflow"`
	TotalInflow       float64 `json:"total_inflow"`
}

// StockDetails combines a realtime quote with history-derived analysis.
type StockDetails struct {
	Quote          Quote            `json:"quote"`
	FundFlow       FundFlowEstimate `json:"fund_flow"`
	FundFlowScore  float64          `json:"fund_flow_score"`
	Indicators     Indicators       `json:"technical_indicators"`
	Analysis       string           `json:"analysis"`
	Recommendation string           `json:"recommendation"`
	HistoryDays    int              `json:"history_days"`
}

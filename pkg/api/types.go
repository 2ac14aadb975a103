package api

import "github.com/shopspring/decimal"

type OpenAccountRequest struct {
	UserID          string          `json:"userId,omitempty"`
	StartingBalance decimal.Decimal `json:"startingBalance,omitempty"`
}

type TradeRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the client -> server subscription message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}

// TradeEvent is pushed to WebSocket subscribers of "trades" and
// "trades:{userId}" after each commit.
type TradeEvent struct {
	Type        string          `json:"type"` // always "trade"
	UserID      string          `json:"userId"`
	TxID        string          `json:"txId"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Timestamp   int64           `json:"timestamp"` // unix millis
}

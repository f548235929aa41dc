package domain

import "time"

type TradeSide string

const (
	TradeSideBuy  TradeSide = "B"
	TradeSideSell TradeSide = "S"
)

type EventType string

const (
	EventAccountLogin   EventType = "AccountLogin"
	EventSessionExpired EventType = "SessionExpired"
	EventOrderPlaced    EventType = "OrderPlaced"
	EventOrderCanceled  EventType = "OrderCanceled"
)

// Cookie is the serializable subset of http.Cookie the portal session
// actually depends on.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
	Secure  bool      `json:"secure,omitempty"`
}

// SessionRecord is the durable form of an authenticated portal session.
// It never carries the account secret.
type SessionRecord struct {
	Identity    string    `json:"identity"`
	ValidateKey string    `json:"validate_key"`
	Cookies     []Cookie  `json:"cookies"`
	SavedAt     time.Time `json:"saved_at"`
}

type OrderRequest struct {
	StockCode string    `json:"stock_code"`
	Side      TradeSide `json:"side"`
	Market    string    `json:"market"`
	Price     float64   `json:"price"`
	Amount    int       `json:"amount"`
}

type Event struct {
	ID        string                 `json:"event_id"`
	Identity  string                 `json:"identity,omitempty"`
	Type      EventType              `json:"event_type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

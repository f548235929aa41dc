package emt

import "strings"

// Tag selects one of the portal's fixed endpoints. Tags are resolved at
// client construction time; an unknown tag at request time is a programmer
// error and panics.
type Tag string

const (
	TagCaptcha          Tag = "captcha"
	TagLogin            Tag = "login"
	TagAssetAndPosition Tag = "asset_and_position"
	TagOrders           Tag = "orders"
	TagTrades           Tag = "trades"
	TagHistoryOrders    Tag = "history_orders"
	TagHistoryTrades    Tag = "history_trades"
	TagFundsFlow        Tag = "funds_flow"
	TagCreateOrder      Tag = "create_order"
	TagCancelOrder      Tag = "cancel_order"
)

const DefaultBaseURL = "https://jywg.18.cn"

// endpointTable maps tags to full URLs. Token-bearing URLs end in the
// validatekey query parameter; the session token is appended verbatim.
type endpointTable struct {
	base      string
	tradePage string
	loginPage string
	byTag     map[Tag]string
}

func newEndpointTable(baseURL string) endpointTable {
	base := strings.TrimRight(baseURL, "/")
	return endpointTable{
		base:      base,
		tradePage: base + "/Trade/Buy",
		loginPage: base + "/Login?el=1&clear=&returl=%2fTrade%2fBuy",
		byTag: map[Tag]string{
			TagCaptcha:          base + "/Login/YZM?randNum=",
			TagLogin:            base + "/Login/Authentication?validatekey=",
			TagAssetAndPosition: base + "/Com/queryAssetAndPositionV1?validatekey=",
			TagOrders:           base + "/Search/GetOrdersData?validatekey=",
			TagTrades:           base + "/Search/GetDealData?validatekey=",
			TagHistoryOrders:    base + "/Search/GetHisOrdersData?validatekey=",
			TagHistoryTrades:    base + "/Search/GetHisDealData?validatekey=",
			TagFundsFlow:        base + "/Search/GetFundsFlow?validatekey=",
			TagCreateOrder:      base + "/Trade/SubmitTradeV2?validatekey=",
			TagCancelOrder:      base + "/Trade/RevokeOrders?validatekey=",
		},
	}
}

func (t endpointTable) resolve(tag Tag) string {
	u, ok := t.byTag[tag]
	if !ok {
		panic("emt: unknown request tag " + string(tag))
	}
	return u
}

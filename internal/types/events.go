package types

import (
	"fmt"
	"time"
)

// EventType tags a MarketEvent.
type EventType uint8

const (
	EventAddOrder EventType = iota
	EventFilledOrder
	EventCancelOrder
	EventTrade
	EventStopTriggered
)

func (t EventType) String() string {
	switch t {
	case EventAddOrder:
		return "ADD_ORDER"
	case EventFilledOrder:
		return "FILLED_ORDER"
	case EventCancelOrder:
		return "CANCEL_ORDER"
	case EventTrade:
		return "TRADE"
	case EventStopTriggered:
		return "STOP_TRIGGERED"
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// MarketEvent is both the command representation a market processor consumes
// (AddOrder, CancelOrder) and the outward notification payload handed to the
// market-data publisher. Only the fields relevant to the tag are set; unset
// prices are zero.
type MarketEvent struct {
	Type      EventType
	Timestamp time.Time

	OrderID     OrderID
	ClientID    ClientID
	Symbol      string
	Quantity    int64
	Side        Side
	Price       int64
	StopPrice   int64
	OrderType   OrderType
	TimeInForce TimeInForce

	// Trade fields.
	CounterpartyID OrderID
	ExecutedPrice  int64
	ExecutedQty    int64
}

// NewAddOrderEvent builds the submission command for a new order. Timestamp
// is capture time and feeds the processor's latency accounting.
func NewAddOrderEvent(id OrderID, clientID ClientID, symbol string, quantity int64, side Side, price, stopPrice int64, orderType OrderType, tif TimeInForce) MarketEvent {
	return MarketEvent{
		Type:        EventAddOrder,
		Timestamp:   time.Now(),
		OrderID:     id,
		ClientID:    clientID,
		Symbol:      symbol,
		Quantity:    quantity,
		Side:        side,
		Price:       price,
		StopPrice:   stopPrice,
		OrderType:   orderType,
		TimeInForce: tif,
	}
}

// NewCancelOrderEvent builds the cancellation command for an order.
func NewCancelOrderEvent(id OrderID, symbol string) MarketEvent {
	return MarketEvent{
		Type:      EventCancelOrder,
		Timestamp: time.Now(),
		OrderID:   id,
		Symbol:    symbol,
	}
}

// NewFilledOrderEvent notifies that an order is fully filled.
func NewFilledOrderEvent(id OrderID, symbol string) MarketEvent {
	return MarketEvent{
		Type:      EventFilledOrder,
		Timestamp: time.Now(),
		OrderID:   id,
		Symbol:    symbol,
	}
}

// NewTradeEvent notifies a single match between an aggressing and a resting
// order.
func NewTradeEvent(aggressorID, restingID OrderID, symbol string, price, quantity int64) MarketEvent {
	return MarketEvent{
		Type:           EventTrade,
		Timestamp:      time.Now(),
		OrderID:        aggressorID,
		Symbol:         symbol,
		CounterpartyID: restingID,
		ExecutedPrice:  price,
		ExecutedQty:    quantity,
	}
}

// NewStopTriggeredEvent notifies that a conditional order crossed its trigger
// and re-entered the market as orderType.
func NewStopTriggeredEvent(o *Order, orderType OrderType) MarketEvent {
	return MarketEvent{
		Type:        EventStopTriggered,
		Timestamp:   time.Now(),
		OrderID:     o.ID,
		ClientID:    o.ClientID,
		Symbol:      o.Symbol,
		Quantity:    o.Quantity,
		Side:        o.Side,
		Price:       o.Price,
		StopPrice:   o.StopPrice,
		OrderType:   orderType,
		TimeInForce: o.TimeInForce,
	}
}

// Trade records one match step. It is transient: produced by the matching
// loop and converted to a MarketEvent for publication, never retained.
type Trade struct {
	ID          uint64
	BuyOrderID  OrderID
	SellOrderID OrderID
	BuyerID     ClientID
	SellerID    ClientID
	Price       int64
	Quantity    int64
}

func (t Trade) String() string {
	return fmt.Sprintf("trade %d buy=%d sell=%d px=%d qty=%d", t.ID, t.BuyOrderID, t.SellOrderID, t.Price, t.Quantity)
}

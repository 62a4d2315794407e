package types

import (
	"errors"
	"fmt"
	"time"
)

// OrderID is globally unique across markets: the owning market's ID lives in
// the top 16 bits, a per-market sequence in the low 48.
type OrderID uint64

// ClientID identifies the submitting client.
type ClientID uint32

// MarketID is the small per-market integer assigned when a market is created.
type MarketID uint16

// Side is the direction of an order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return fmt.Sprintf("Side(%d)", uint8(s))
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType determines how an order interacts with the book.
type OrderType uint8

const (
	Limit OrderType = iota
	Market
	Stop
	StopLimit
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case Market:
		return "MARKET"
	case Stop:
		return "STOP"
	case StopLimit:
		return "STOP_LIMIT"
	}
	return fmt.Sprintf("OrderType(%d)", uint8(t))
}

// Conditional reports whether the order type waits on a trigger price before
// entering the book.
func (t OrderType) Conditional() bool {
	return t == Stop || t == StopLimit
}

// TimeInForce controls what happens to the unmatched remainder of an order.
type TimeInForce uint8

const (
	Day TimeInForce = iota
	IOC
	FOK
	GTC
)

func (tif TimeInForce) String() string {
	switch tif {
	case Day:
		return "DAY"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case GTC:
		return "GTC"
	}
	return fmt.Sprintf("TimeInForce(%d)", uint8(tif))
}

// OrderStatus tracks the order lifecycle. Filled and Canceled are terminal.
type OrderStatus uint8

const (
	New OrderStatus = iota
	PartiallyFilled
	Filled
	Canceled
	Expired
)

func (s OrderStatus) String() string {
	switch s {
	case New:
		return "NEW"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Canceled:
		return "CANCELED"
	case Expired:
		return "EXPIRED"
	}
	return fmt.Sprintf("OrderStatus(%d)", uint8(s))
}

// Validation errors shared by order construction and engine-side checks.
var (
	ErrEmptySymbol       = errors.New("order symbol is empty")
	ErrInvalidQuantity   = errors.New("order quantity must be positive")
	ErrPriceRequired     = errors.New("order type requires a price")
	ErrUnexpectedPrice   = errors.New("order type must not carry a price")
	ErrStopPriceRequired = errors.New("order type requires a stop price")
	ErrUnexpectedStop    = errors.New("order type must not carry a stop price")
)

// Order is the mutable lifecycle record for a single order. Prices are in
// minor currency units (cents). Price is zero unless the type is Limit or
// StopLimit; StopPrice is zero unless the type is Stop or StopLimit.
//
// An order is owned by exactly one market processor's order table. While it
// rests, the book side additionally indexes it by ID; that index entry is
// dropped the moment the order leaves the book.
type Order struct {
	ID          OrderID
	ClientID    ClientID
	Symbol      string
	Timestamp   time.Time
	Quantity    int64
	Remaining   int64
	Price       int64
	StopPrice   int64
	Side        Side
	Type        OrderType
	TimeInForce TimeInForce
	Status      OrderStatus
}

// NewLimitOrder builds a limit order resting at price until matched or
// canceled, subject to tif.
func NewLimitOrder(id OrderID, clientID ClientID, symbol string, quantity, price int64, side Side, tif TimeInForce) (*Order, error) {
	o := &Order{
		ID:          id,
		ClientID:    clientID,
		Symbol:      symbol,
		Timestamp:   time.Now(),
		Quantity:    quantity,
		Remaining:   quantity,
		Price:       price,
		Side:        side,
		Type:        Limit,
		TimeInForce: tif,
		Status:      New,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// NewMarketOrder builds a market order that executes against whatever depth
// is available and never rests.
func NewMarketOrder(id OrderID, clientID ClientID, symbol string, quantity int64, side Side, tif TimeInForce) (*Order, error) {
	o := &Order{
		ID:          id,
		ClientID:    clientID,
		Symbol:      symbol,
		Timestamp:   time.Now(),
		Quantity:    quantity,
		Remaining:   quantity,
		Side:        side,
		Type:        Market,
		TimeInForce: tif,
		Status:      New,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// NewStopOrder builds a stop order that converts to a market order once the
// traded price crosses stopPrice.
func NewStopOrder(id OrderID, clientID ClientID, symbol string, quantity, stopPrice int64, side Side, tif TimeInForce) (*Order, error) {
	o := &Order{
		ID:          id,
		ClientID:    clientID,
		Symbol:      symbol,
		Timestamp:   time.Now(),
		Quantity:    quantity,
		Remaining:   quantity,
		StopPrice:   stopPrice,
		Side:        side,
		Type:        Stop,
		TimeInForce: tif,
		Status:      New,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// NewStopLimitOrder builds a stop-limit order that converts to a limit order
// at price once the traded price crosses stopPrice.
func NewStopLimitOrder(id OrderID, clientID ClientID, symbol string, quantity, price, stopPrice int64, side Side, tif TimeInForce) (*Order, error) {
	o := &Order{
		ID:          id,
		ClientID:    clientID,
		Symbol:      symbol,
		Timestamp:   time.Now(),
		Quantity:    quantity,
		Remaining:   quantity,
		Price:       price,
		StopPrice:   stopPrice,
		Side:        side,
		Type:        StopLimit,
		TimeInForce: tif,
		Status:      New,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks the structural invariants of the order: quantity bounds and
// the price/stop-price combination permitted for its type. Tick-size
// conformance is a per-market concern checked at the submission boundary.
func (o *Order) Validate() error {
	if o.Symbol == "" {
		return ErrEmptySymbol
	}
	if o.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if o.Remaining < 0 || o.Remaining > o.Quantity {
		return fmt.Errorf("order remaining %d out of range [0, %d]", o.Remaining, o.Quantity)
	}
	switch o.Type {
	case Limit:
		if o.Price <= 0 {
			return ErrPriceRequired
		}
		if o.StopPrice != 0 {
			return ErrUnexpectedStop
		}
	case Market:
		if o.Price != 0 {
			return ErrUnexpectedPrice
		}
		if o.StopPrice != 0 {
			return ErrUnexpectedStop
		}
	case Stop:
		if o.Price != 0 {
			return ErrUnexpectedPrice
		}
		if o.StopPrice <= 0 {
			return ErrStopPriceRequired
		}
	case StopLimit:
		if o.Price <= 0 {
			return ErrPriceRequired
		}
		if o.StopPrice <= 0 {
			return ErrStopPriceRequired
		}
	default:
		return fmt.Errorf("unknown order type %d", o.Type)
	}
	return nil
}

func (o *Order) String() string {
	return fmt.Sprintf("order %d client=%d %s %s %s qty=%d rem=%d px=%d stop=%d %s status=%s",
		o.ID, o.ClientID, o.Symbol, o.Side, o.Type, o.Quantity, o.Remaining, o.Price, o.StopPrice, o.TimeInForce, o.Status)
}

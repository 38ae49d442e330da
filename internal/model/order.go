package model

import (
	"math/big"

	"github.com/holiman/uint256"
)

// OrderType identifies one of the four pending intent aggregates of a pool.
type OrderType int

const (
	SeniorRedeem OrderType = iota
	JuniorRedeem
	JuniorInvest
	SeniorInvest
)

// OrderTypes lists every order type in the reference priority order.
var OrderTypes = [...]OrderType{SeniorRedeem, JuniorRedeem, JuniorInvest, SeniorInvest}

func (t OrderType) String() string {
	switch t {
	case SeniorRedeem:
		return "senior_redeem"
	case JuniorRedeem:
		return "junior_redeem"
	case JuniorInvest:
		return "junior_invest"
	case SeniorInvest:
		return "senior_invest"
	default:
		return "unknown"
	}
}

// IsRedeem reports whether the order type takes liquidity out of the pool.
func (t OrderType) IsRedeem() bool { return t == SeniorRedeem || t == JuniorRedeem }

// IsSenior reports whether the order type belongs to the senior tranche.
func (t OrderType) IsSenior() bool { return t == SeniorRedeem || t == SeniorInvest }

// OrderSnapshot aggregates pending orders per tranche and direction, in
// currency base units. Redemptions are already converted at the tranche price.
// The same shape is used for executed amounts.
type OrderSnapshot struct {
	JuniorInvest uint256.Int
	SeniorInvest uint256.Int
	JuniorRedeem uint256.Int
	SeniorRedeem uint256.Int
}

// Get returns the amount for one order type.
func (o OrderSnapshot) Get(t OrderType) uint256.Int {
	switch t {
	case SeniorRedeem:
		return o.SeniorRedeem
	case JuniorRedeem:
		return o.JuniorRedeem
	case JuniorInvest:
		return o.JuniorInvest
	case SeniorInvest:
		return o.SeniorInvest
	}
	return uint256.Int{}
}

// Set assigns the amount for one order type.
func (o *OrderSnapshot) Set(t OrderType, v uint256.Int) {
	switch t {
	case SeniorRedeem:
		o.SeniorRedeem = v
	case JuniorRedeem:
		o.JuniorRedeem = v
	case JuniorInvest:
		o.JuniorInvest = v
	case SeniorInvest:
		o.SeniorInvest = v
	}
}

// Total returns the sum of all four amounts.
func (o OrderSnapshot) Total() *big.Int {
	total := new(big.Int)
	for _, t := range OrderTypes {
		v := o.Get(t)
		total.Add(total, v.ToBig())
	}
	return total
}

// IsZero reports whether every amount is zero.
func (o OrderSnapshot) IsZero() bool {
	return o.JuniorInvest.IsZero() && o.SeniorInvest.IsZero() &&
		o.JuniorRedeem.IsZero() && o.SeniorRedeem.IsZero()
}

// Equal reports whether both snapshots carry identical amounts.
func (o OrderSnapshot) Equal(other OrderSnapshot) bool {
	return o.JuniorInvest.Eq(&other.JuniorInvest) &&
		o.SeniorInvest.Eq(&other.SeniorInvest) &&
		o.JuniorRedeem.Eq(&other.JuniorRedeem) &&
		o.SeniorRedeem.Eq(&other.SeniorRedeem)
}

// PriorityWeights bias the allocation objective. They are never compared as
// currency. Higher weight means higher priority.
type PriorityWeights struct {
	SeniorRedeem uint64 `yaml:"senior_redeem" json:"senior_redeem"`
	JuniorRedeem uint64 `yaml:"junior_redeem" json:"junior_redeem"`
	JuniorInvest uint64 `yaml:"junior_invest" json:"junior_invest"`
	SeniorInvest uint64 `yaml:"senior_invest" json:"senior_invest"`
}

// Get returns the weight of one order type.
func (w PriorityWeights) Get(t OrderType) uint64 {
	switch t {
	case SeniorRedeem:
		return w.SeniorRedeem
	case JuniorRedeem:
		return w.JuniorRedeem
	case JuniorInvest:
		return w.JuniorInvest
	case SeniorInvest:
		return w.SeniorInvest
	}
	return 0
}

// IsZero reports whether no weight has been configured.
func (w PriorityWeights) IsZero() bool { return w == PriorityWeights{} }

// Ordered returns the order types sorted by descending weight. Ties keep the
// reference priority order.
func (w PriorityWeights) Ordered() []OrderType {
	out := make([]OrderType, len(OrderTypes))
	copy(out, OrderTypes[:])
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && w.Get(out[j]) > w.Get(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

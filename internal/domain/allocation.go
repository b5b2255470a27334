package domain

import (
	"github.com/shopspring/decimal"
)

// StageSlice is the part of a purchase filled by a single stage.
type StageSlice struct {
	Ordinal    int
	Price      decimal.Decimal
	Tokens     int64
	Cost       decimal.Decimal // in the payment currency
	RaisedFiat decimal.Decimal // Tokens * PriceFiat
	Closes     bool
}

// Allocation is the outcome of spreading a payment across presale stages.
//
// Every unit of the payment is accounted for:
// sum(Slices.Cost) + Change + Shortfall == Amount.
type Allocation struct {
	Amount     decimal.Decimal
	Basis      PriceBasis
	Slices     []StageSlice
	Tokens     int64
	Change     decimal.Decimal // below the price of one token at the last open stage
	Shortfall  decimal.Decimal // left over after every stage sold out
	NextActive int             // ordinal selling after the purchase, zero if none
}

// Spent returns the part of the payment converted into tokens.
func (a Allocation) Spent() decimal.Decimal {
	total := decimal.Zero
	for _, s := range a.Slices {
		total = total.Add(s.Cost)
	}
	return total
}

// RaisedFiat returns the fiat value of the tokens sold.
func (a Allocation) RaisedFiat() decimal.Decimal {
	total := decimal.Zero
	for _, s := range a.Slices {
		total = total.Add(s.RaisedFiat)
	}
	return total
}

// Conserves reports whether the allocation accounts for the full payment.
func (a Allocation) Conserves() bool {
	return a.Spent().Add(a.Change).Add(a.Shortfall).Equal(a.Amount)
}

// AllocatePurchase spreads amount over stages, which must start with the active
// stage followed by the stages that may be opened after it, in ordinal order.
//
// When a stage cannot fill the rest of the payment, it sells its remaining
// inventory and closes, and the unspent fiat is priced at the next stage.
// The loop visits each stage at most once.
func AllocatePurchase(amount decimal.Decimal, basis PriceBasis, stages []*PresaleStage) (Allocation, error) {
	alloc := Allocation{
		Amount:    amount,
		Basis:     basis,
		Change:    decimal.Zero,
		Shortfall: decimal.Zero,
	}
	if !amount.IsPositive() {
		return alloc, ErrInvalidAmount
	}
	if len(stages) == 0 || !stages[0].Active {
		return alloc, ErrStageExhausted
	}

	remaining := amount
	stopped := false

	for _, stage := range stages {
		price := stage.Price(basis)
		if !price.IsPositive() {
			return alloc, ErrInvalidStage
		}

		left := stage.Remaining()
		if left > 0 && remaining.LessThan(price) {
			alloc.Change = remaining
			remaining = decimal.Zero
			stopped = true
			break
		}

		wanted, _ := remaining.QuoRem(price, 0)
		take := left
		if wanted.LessThan(decimal.NewFromInt(left)) {
			take = wanted.IntPart()
		}

		cost := price.Mul(decimal.NewFromInt(take))
		remaining = remaining.Sub(cost)
		closes := take == left

		alloc.Slices = append(alloc.Slices, StageSlice{
			Ordinal:    stage.Ordinal,
			Price:      price,
			Tokens:     take,
			Cost:       cost,
			RaisedFiat: stage.PriceFiat.Mul(decimal.NewFromInt(take)),
			Closes:     closes,
		})
		alloc.Tokens += take

		if !closes {
			alloc.Change = remaining
			remaining = decimal.Zero
			stopped = true
			break
		}
		if remaining.IsZero() {
			stopped = true
			break
		}
	}

	if !stopped {
		alloc.Shortfall = remaining
	}

	alloc.NextActive = nextActive(alloc.Slices, stages)

	if alloc.Tokens == 0 {
		if alloc.Shortfall.IsPositive() {
			return alloc, ErrStageExhausted
		}
		return alloc, ErrAmountBelowPrice
	}

	return alloc, nil
}

func nextActive(slices []StageSlice, stages []*PresaleStage) int {
	if len(slices) == 0 {
		return stages[0].Ordinal
	}
	last := slices[len(slices)-1]
	if !last.Closes {
		return last.Ordinal
	}
	if len(slices) < len(stages) {
		return stages[len(slices)].Ordinal
	}
	return 0
}

package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func settlementTxn(total, returned string) *Transaction {
	return &Transaction{
		TotalAmount:    decimal.RequireFromString(total),
		ReturnedAmount: decimal.RequireFromString(returned),
	}
}

func TestSettlementTotals_CommissionIsPercentOfNetOfReturns(t *testing.T) {
	transactions := []*Transaction{
		settlementTxn("1000", "0"),
		settlementTxn("500", "100"),
	}
	rate := decimal.RequireFromString("2.5")

	gross, returns, commission, net := settlementTotals(transactions, rate)

	if !gross.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("gross = %s, want 1500", gross)
	}
	if !returns.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("returns = %s, want 100", returns)
	}
	// (1500 - 100) * 2.5% = 35
	if !commission.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("commission = %s, want 35", commission)
	}
	if !net.Equal(decimal.NewFromInt(1365)) {
		t.Fatalf("net = %s, want 1365", net)
	}
}

func TestSettlementTotals_ZeroRate(t *testing.T) {
	transactions := []*Transaction{settlementTxn("800", "50")}

	gross, returns, commission, net := settlementTotals(transactions, decimal.Zero)

	if !gross.Equal(decimal.NewFromInt(800)) || !returns.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("gross=%s returns=%s, want 800/50", gross, returns)
	}
	if !commission.IsZero() {
		t.Fatalf("commission = %s, want 0", commission)
	}
	if !net.Equal(decimal.NewFromInt(750)) {
		t.Fatalf("net = %s, want 750", net)
	}
}

func TestSettlementTotals_FullyReturnedBatch(t *testing.T) {
	transactions := []*Transaction{settlementTxn("400", "400")}

	_, _, commission, net := settlementTotals(transactions, decimal.RequireFromString("2.5"))

	if !commission.IsZero() {
		t.Fatalf("commission = %s, want 0", commission)
	}
	if !net.IsZero() {
		t.Fatalf("net = %s, want 0", net)
	}
}

func TestSettlementTotals_FractionalCommission(t *testing.T) {
	transactions := []*Transaction{settlementTxn("333.33", "0")}

	_, _, commission, net := settlementTotals(transactions, decimal.RequireFromString("2.5"))

	if !commission.Equal(decimal.RequireFromString("8.333250")) {
		t.Fatalf("commission = %s, want 8.333250", commission)
	}
	if !net.Equal(decimal.RequireFromString("324.996750")) {
		t.Fatalf("net = %s, want 324.996750", net)
	}
}

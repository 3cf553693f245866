package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func allocTarget(id int, due time.Time, remaining int64) allocationTarget {
	return allocationTarget{TransactionId: id, DueDate: due, Remaining: decimal.NewFromInt(remaining)}
}

func TestAllocateOldestFirst_OrdersByDueDate(t *testing.T) {
	jan10 := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	jan20 := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	jan05 := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	targets := []allocationTarget{
		allocTarget(7, jan10, 300),
		allocTarget(3, jan20, 500),
		allocTarget(9, jan05, 200),
	}

	allocations := allocateOldestFirst(targets, decimal.NewFromInt(600))
	if len(allocations) != 3 {
		t.Fatalf("expected 3 allocations, got %d", len(allocations))
	}
	// Oldest due date first: 9 (jan05) fully, 7 (jan10) fully, 3 gets the rest.
	if allocations[0].TransactionId != 9 || !allocations[0].Amount.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("allocation[0] = %+v, want txn 9 amount 200", allocations[0])
	}
	if allocations[1].TransactionId != 7 || !allocations[1].Amount.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("allocation[1] = %+v, want txn 7 amount 300", allocations[1])
	}
	if allocations[2].TransactionId != 3 || !allocations[2].Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("allocation[2] = %+v, want txn 3 amount 100", allocations[2])
	}
}

func TestAllocateOldestFirst_IdBreaksDueDateTies(t *testing.T) {
	due := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	targets := []allocationTarget{
		allocTarget(12, due, 100),
		allocTarget(4, due, 100),
		allocTarget(8, due, 100),
	}

	allocations := allocateOldestFirst(targets, decimal.NewFromInt(250))
	if len(allocations) != 3 {
		t.Fatalf("expected 3 allocations, got %d", len(allocations))
	}
	wantIds := []int{4, 8, 12}
	wantAmounts := []int64{100, 100, 50}
	for i := range allocations {
		if allocations[i].TransactionId != wantIds[i] {
			t.Fatalf("allocation[%d] txn = %d, want %d", i, allocations[i].TransactionId, wantIds[i])
		}
		if !allocations[i].Amount.Equal(decimal.NewFromInt(wantAmounts[i])) {
			t.Fatalf("allocation[%d] amount = %s, want %d", i, allocations[i].Amount, wantAmounts[i])
		}
	}
}

func TestAllocateOldestFirst_StopsWhenAmountExhausted(t *testing.T) {
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	targets := []allocationTarget{
		allocTarget(1, jan, 500),
		allocTarget(2, jan.AddDate(0, 0, 10), 500),
	}

	allocations := allocateOldestFirst(targets, decimal.NewFromInt(120))
	if len(allocations) != 1 {
		t.Fatalf("expected 1 allocation, got %d", len(allocations))
	}
	if allocations[0].TransactionId != 1 || !allocations[0].Amount.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("allocation[0] = %+v, want txn 1 amount 120", allocations[0])
	}
}

func TestAllocateOldestFirst_SkipsZeroRemaining(t *testing.T) {
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	targets := []allocationTarget{
		allocTarget(1, jan, 0),
		allocTarget(2, jan.AddDate(0, 0, 1), 75),
	}

	allocations := allocateOldestFirst(targets, decimal.NewFromInt(75))
	if len(allocations) != 1 {
		t.Fatalf("expected 1 allocation, got %d", len(allocations))
	}
	if allocations[0].TransactionId != 2 {
		t.Fatalf("allocation went to txn %d, want 2", allocations[0].TransactionId)
	}
}

func TestAllocateOldestFirst_DoesNotMutateInput(t *testing.T) {
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	targets := []allocationTarget{
		allocTarget(5, jan.AddDate(0, 0, 5), 100),
		allocTarget(1, jan, 100),
	}

	_ = allocateOldestFirst(targets, decimal.NewFromInt(50))
	if targets[0].TransactionId != 5 || targets[1].TransactionId != 1 {
		t.Fatalf("input slice was reordered: %+v", targets)
	}
}

func TestAllocateOldestFirst_FractionalAmounts(t *testing.T) {
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	targets := []allocationTarget{
		{TransactionId: 1, DueDate: jan, Remaining: decimal.RequireFromString("33.35")},
		{TransactionId: 2, DueDate: jan.AddDate(0, 0, 1), Remaining: decimal.RequireFromString("66.65")},
	}

	allocations := allocateOldestFirst(targets, decimal.RequireFromString("50.00"))
	if len(allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocations))
	}
	if !allocations[0].Amount.Equal(decimal.RequireFromString("33.35")) {
		t.Fatalf("allocation[0] amount = %s, want 33.35", allocations[0].Amount)
	}
	if !allocations[1].Amount.Equal(decimal.RequireFromString("16.65")) {
		t.Fatalf("allocation[1] amount = %s, want 16.65", allocations[1].Amount)
	}
}

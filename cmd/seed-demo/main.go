package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bariqhq/bnpl_backend/models"
	"github.com/shopspring/decimal"
)

// Seeds a small demo dataset: one merchant with two branches, two customers
// with credit, and a confirmed transaction ready for payment.
func main() {
	confirm := flag.String("confirm", "", "Type SEED to proceed")
	flag.Parse()

	if strings.TrimSpace(*confirm) != "SEED" {
		fmt.Fprintln(os.Stderr, "set --confirm=SEED to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	if err := models.MigrateDatabase(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	merchant, err := models.CreateMerchant(ctx, &models.NewMerchant{
		Name:            "Dar Al Teqnia",
		CommercialRegNo: "1010999888",
		Email:           "ops@darteqnia.example",
		PhoneNumber:     "0550000001",
		BankName:        "Al Rajhi Bank",
		Iban:            "SA0380000000608010167519",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create merchant: %v\n", err)
		os.Exit(1)
	}
	if _, err := models.UpdateMerchantStatus(ctx, merchant.ID, models.MerchantStatusActive); err != nil {
		fmt.Fprintf(os.Stderr, "activate merchant: %v\n", err)
		os.Exit(1)
	}

	mainBranch, err := models.CreateBranch(ctx, &models.NewBranch{
		MerchantId: merchant.ID,
		Name:       "Olaya Main",
		City:       "Riyadh",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create branch: %v\n", err)
		os.Exit(1)
	}
	if _, err := models.CreateBranch(ctx, &models.NewBranch{
		MerchantId:      merchant.ID,
		Name:            "Jeddah Corniche",
		City:            "Jeddah",
		SettlementCycle: models.SettlementCycleMonthly,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "create branch: %v\n", err)
		os.Exit(1)
	}

	limit := decimal.NewFromInt(2500)
	customers := []models.NewCustomer{
		{FullName: "Abdullah Al Qahtani", Phone: "0551112233", City: "Riyadh", CreditLimit: limit},
		{FullName: "Sara Al Otaibi", Phone: "0554445566", City: "Jeddah", CreditLimit: limit},
	}
	var first *models.Customer
	for i := range customers {
		customer, err := models.CreateCustomer(ctx, &customers[i])
		if err != nil {
			fmt.Fprintf(os.Stderr, "create customer: %v\n", err)
			os.Exit(1)
		}
		if _, err := models.UpdateCustomerStatus(ctx, customer.ID, models.CustomerStatusActive, "demo seed"); err != nil {
			fmt.Fprintf(os.Stderr, "activate customer: %v\n", err)
			os.Exit(1)
		}
		if first == nil {
			first = customer
		}
		fmt.Printf("customer %s bariq_id=%s\n", customer.FullName, customer.BariqId)
	}

	transaction, err := models.CreateTransaction(ctx, &models.NewTransaction{
		MerchantId:      merchant.ID,
		BranchId:        mainBranch.ID,
		CustomerBariqId: first.BariqId,
		Items: []models.TransactionItem{
			{Name: "Wireless Keyboard", UnitPrice: decimal.NewFromInt(250), Quantity: 2},
			{Name: "USB-C Hub", UnitPrice: decimal.NewFromInt(300), Quantity: 1},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create transaction: %v\n", err)
		os.Exit(1)
	}
	if _, err := models.ConfirmTransaction(ctx, first.ID, transaction.ID); err != nil {
		fmt.Fprintf(os.Stderr, "confirm transaction: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("seeded merchant=%d branch=%d transaction=%s\n", merchant.ID, mainBranch.ID, transaction.ReferenceNumber)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pricing/internal/auth"
	"github.com/noah-isme/toko-pricing/internal/common"
	"github.com/noah-isme/toko-pricing/internal/coupon"
	"github.com/noah-isme/toko-pricing/internal/repo"
	"github.com/noah-isme/toko-pricing/internal/shipping"
)

func main() {
	token := flag.Bool("token", false, "print an admin token signed with JWT_SECRET and exit")
	migrate := flag.Bool("migrate", true, "apply migrations before seeding")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	if *token {
		printAdminToken()
		return
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	if *migrate {
		dir := os.Getenv("MIGRATIONS_PATH")
		if dir == "" {
			dir = "db/migrations"
		}
		if err := repo.Migrate(dbURL, dir); err != nil {
			log.Fatalf("Failed to migrate: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := repo.Connect(ctx, dbURL, "toko-pricing-seeder")
	if err != nil {
		log.Fatalf("Failed to connect DB: %v", err)
	}
	defer pool.Close()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	seedCoupons(ctx, &coupon.Service{Store: repo.CouponStore{DB: pool}, Log: logger})
	seedShippingRules(ctx, &shipping.Service{Store: repo.RuleStore{DB: pool}, Log: logger})

	log.Println("Seeding completed successfully!")
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func intPtr(v int) *int { return &v }

func seedCoupons(ctx context.Context, svc *coupon.Service) {
	expiry := time.Now().AddDate(1, 0, 0).UTC().Truncate(time.Hour)
	coupons := []coupon.Coupon{
		{Code: "WELCOME10", Description: "10% off your first order", DiscountType: coupon.DiscountPercentage,
			DiscountValue: dec("10"), MaxDiscount: decPtr("20"), UsagePerUser: 1},
		{Code: "SAVE5", Description: "5 off orders over 30", DiscountType: coupon.DiscountFixed,
			DiscountValue: dec("5"), MinimumPurchase: dec("30"), UsageLimit: intPtr(500), UsagePerUser: 3},
		{Code: "FREESHIP", Description: "Free delivery over 25", DiscountType: coupon.DiscountFreeShipping,
			MinimumPurchase: dec("25"), UsageLimit: intPtr(1000), UsagePerUser: 2},
	}

	fmt.Println("Seeding Coupons...")
	for _, c := range coupons {
		c.ExpiryDate = &expiry
		c.IsActive = true
		_, err := svc.Create(ctx, c)
		switch {
		case errors.Is(err, coupon.ErrCodeTaken):
			fmt.Printf("  - %s already exists\n", c.Code)
		case err != nil:
			log.Fatalf("Failed to seed coupon %s: %v", c.Code, err)
		default:
			fmt.Printf("  + %s\n", c.Code)
		}
	}
}

func seedShippingRules(ctx context.Context, svc *shipping.Service) {
	existing, _, err := svc.List(ctx, common.Pagination{Page: 1, PerPage: 1})
	if err != nil {
		log.Fatalf("Failed to list shipping rules: %v", err)
	}
	if len(existing) > 0 {
		fmt.Println("Shipping rules already present, skipping")
		return
	}

	rules := []shipping.Rule{
		{Name: "Standard", Description: "Flat rate delivery", Type: shipping.RuleFlatRate,
			BaseRate: dec("4.99"), FreeShippingThreshold: decPtr("50"), Priority: 1},
		{Name: "Heavy goods", Description: "Weight banded courier", Type: shipping.RuleWeightBased,
			BaseRate: dec("25"), Priority: 5, ApplicableCountries: []string{"GB", "IE"},
			WeightRates: []shipping.Tier{
				{Min: dec("0"), Max: dec("5"), Rate: dec("6.5")},
				{Min: dec("5"), Max: dec("20"), Rate: dec("12")},
			}},
		{Name: "EU economy", Description: "Price banded EU delivery", Type: shipping.RulePriceBased,
			BaseRate: dec("9.99"), FreeShippingThreshold: decPtr("150"), Priority: 3,
			ApplicableCountries: []string{"FR", "DE", "NL", "BE"},
			PriceRates: []shipping.Tier{
				{Min: dec("0"), Max: dec("49.99"), Rate: dec("12.5")},
				{Min: dec("50"), Max: dec("99.99"), Rate: dec("7.5")},
			}},
	}

	fmt.Println("Seeding Shipping Rules...")
	for _, r := range rules {
		r.IsActive = true
		if _, err := svc.Create(ctx, r); err != nil {
			log.Fatalf("Failed to seed shipping rule %s: %v", r.Name, err)
		}
		fmt.Printf("  + %s\n", r.Name)
	}
}

func printAdminToken() {
	v, err := auth.NewVerifier(os.Getenv("JWT_SECRET"), auth.TokenValidator{
		Issuer:   os.Getenv("JWT_ISSUER"),
		Audience: os.Getenv("JWT_AUDIENCE"),
	})
	if err != nil {
		log.Fatalf("Failed to build verifier: %v", err)
	}
	tok, err := v.Sign(auth.Claims{Subject: "seed-admin", Roles: []string{"admin"}}, 24*time.Hour)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(tok)
}

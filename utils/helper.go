package utils

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/bariqhq/bnpl_backend/config"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	if len(defaults) > 0 {
		return defaults[0]
	}
	var zero T
	return zero
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	result := make([]T, 0, len(slice))
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// GenerateReference builds a human-readable reference number like
// TXN-20260830-483920. Uniqueness is enforced by the DB column; collisions
// surface as duplicate-key errors and the caller retries.
func GenerateReference(prefix string) string {
	return fmt.Sprintf("%s-%s-%06d", prefix, time.Now().UTC().Format("20060102"), rand.Intn(1000000))
}

// GenerateShortCode returns an n-digit numeric code (customer-facing ids).
func GenerateShortCode(n int) string {
	digits := make([]byte, n)
	for i := range digits {
		digits[i] = byte('0' + rand.Intn(10))
	}
	// leading zero looks like a typo on a receipt
	if digits[0] == '0' {
		digits[0] = byte('1' + rand.Intn(9))
	}
	return string(digits)
}

// NormalizePhoneNumber parses and E.164-formats a phone number. Gateway
// customer details reject badly formed numbers, so this runs before any
// session is created.
func NormalizePhoneNumber(phoneNumber, countryCode string) (string, error) {
	if strings.TrimSpace(phoneNumber) == "" {
		return "", errors.New("phone number is empty")
	}
	if countryCode == "" {
		countryCode = "SA"
	}
	parsed, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return "", fmt.Errorf("invalid phone number: %w", err)
	}
	if !libphonenumber.IsValidNumber(parsed) {
		return "", errors.New("invalid phone number")
	}
	return libphonenumber.Format(parsed, libphonenumber.E164), nil
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}
	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}
	return dec, nil
}

// ConvertToDate truncates a time to midnight in the given timezone.
func ConvertToDate(t time.Time, timezone string) (time.Time, error) {
	if timezone == "" {
		timezone = "Asia/Riyadh"
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return t, err
	}
	localTime := t.In(location)
	return time.Date(localTime.Year(), localTime.Month(), localTime.Day(), 0, 0, 0, 0, location), nil
}

// PlatformLock obtains a best-effort redis lock for a scheduler run so
// overlapping cron triggers don't duplicate work. Correctness never depends
// on it; DB constraints serialize the actual mutations.
func PlatformLock(ctx context.Context, lockType string, key string, ttl time.Duration) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}
	lockKey := fmt.Sprintf("%s:%s", lockType, key)
	lock, err := locker.Obtain(ctx, lockKey, ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, DuplicateErr("another %s run holds the lock", lockType)
	} else if err != nil {
		// Redis being down must not stop the scheduler.
		return nil, nil
	}
	return lock, nil
}

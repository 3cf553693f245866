package config

import (
	"os"
	"strings"
	"time"
)

// GatewayConfig holds the PayTabs connection settings. The client key is only
// used by the mobile/web shells; the core needs the server key for API calls
// and webhook signature checks.
type GatewayConfig struct {
	ProfileId   string
	ServerKey   string
	Currency    string
	Region      string
	CallbackUrl string
	ReturnUrl   string
	Timeout     time.Duration
}

func GetGatewayConfig() GatewayConfig {
	currency := strings.TrimSpace(os.Getenv("PAYTABS_CURRENCY"))
	if currency == "" {
		currency = "SAR"
	}
	region := strings.ToLower(strings.TrimSpace(os.Getenv("PAYTABS_REGION")))
	if region == "" {
		region = "saudi"
	}
	return GatewayConfig{
		ProfileId:   os.Getenv("PAYTABS_PROFILE_ID"),
		ServerKey:   os.Getenv("PAYTABS_SERVER_KEY"),
		Currency:    currency,
		Region:      region,
		CallbackUrl: os.Getenv("PAYMENT_CALLBACK_URL"),
		ReturnUrl:   os.Getenv("PAYMENT_RETURN_URL"),
		Timeout:     time.Duration(intFromEnv("PAYTABS_TIMEOUT_SECONDS", 30)) * time.Second,
	}
}

// BaseUrl maps the configured region to the PayTabs API host.
func (c GatewayConfig) BaseUrl() string {
	regionUrls := map[string]string{
		"egypt":  "https://secure-egypt.paytabs.com",
		"saudi":  "https://secure.paytabs.sa",
		"uae":    "https://secure.paytabs.com",
		"global": "https://secure-global.paytabs.com",
	}
	if url, ok := regionUrls[c.Region]; ok {
		return url
	}
	return regionUrls["saudi"]
}

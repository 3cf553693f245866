package models

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestMapGatewayStatus(t *testing.T) {
	cases := []struct {
		code string
		want PaymentStatus
	}{
		{"A", PaymentStatusCompleted},
		{"H", PaymentStatusPending},
		{"P", PaymentStatusPending},
		{"V", PaymentStatusVoided},
		{"E", PaymentStatusFailed},
		{"D", PaymentStatusDeclined},
		{"X", PaymentStatusFailed},
		{"", PaymentStatusFailed},
	}
	for _, tc := range cases {
		if got := mapGatewayStatus(tc.code); got != tc.want {
			t.Fatalf("mapGatewayStatus(%q) = %s, want %s", tc.code, got, tc.want)
		}
	}
}

func signBody(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	t.Setenv("PAYTABS_SERVER_KEY", "test-server-key")
	body := []byte(`{"tran_ref":"TST2201","cart_amount":"800.00"}`)

	if !VerifyWebhookSignature(body, signBody("test-server-key", body)) {
		t.Fatal("valid signature rejected")
	}
	// Provider sometimes sends uppercase hex.
	if !VerifyWebhookSignature(body, strings.ToUpper(signBody("test-server-key", body))) {
		t.Fatal("uppercase signature rejected")
	}
	if VerifyWebhookSignature(body, signBody("wrong-key", body)) {
		t.Fatal("signature from wrong key accepted")
	}
	if VerifyWebhookSignature([]byte(`{"tran_ref":"TAMPERED"}`), signBody("test-server-key", body)) {
		t.Fatal("signature over different body accepted")
	}
	if VerifyWebhookSignature(body, "") {
		t.Fatal("empty signature accepted")
	}
}

func TestVerifyWebhookSignature_NoServerKeyConfigured(t *testing.T) {
	t.Setenv("PAYTABS_SERVER_KEY", "")
	body := []byte(`{}`)
	if VerifyWebhookSignature(body, signBody("", body)) {
		t.Fatal("signature accepted with no server key configured")
	}
}

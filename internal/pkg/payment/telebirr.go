package payment

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lomitrack/lomitrack/app/models"
	"github.com/lomitrack/lomitrack/internal/pkg/env"
)

// TelebirrGateway is the mobile-money adapter. Outbound order requests
// are RSA-signed with the deployment private key over alphabetically
// sorted fields; inbound callbacks are verified the same way against
// the gateway's published public key. Callbacks that fail verification
// are dropped — the upstream behaviour of trusting any well-formed
// callback is not reproduced here.
type TelebirrGateway struct {
	baseURL    string
	appID      string
	shortCode  string
	notifyURL  string
	returnURL  string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey

	httpClient *http.Client
}

// NewTelebirrGatewayFromEnv builds the adapter from PEM-encoded keys in
// the environment.
func NewTelebirrGatewayFromEnv() (*TelebirrGateway, error) {
	priv, err := ParseRSAPrivateKey([]byte(env.GetEnv("TELEBIRR_PRIVATE_KEY", "")))
	if err != nil {
		return nil, fmt.Errorf("TELEBIRR_PRIVATE_KEY: %w", err)
	}
	pub, err := ParseRSAPublicKey([]byte(env.GetEnv("TELEBIRR_PUBLIC_KEY", "")))
	if err != nil {
		return nil, fmt.Errorf("TELEBIRR_PUBLIC_KEY: %w", err)
	}

	base := strings.TrimRight(env.GetEnv("FRONTEND_BASE_URL", "http://localhost:3000"), "/")
	apiBase := strings.TrimRight(env.GetEnv("TELEBIRR_BASE_URL", "https://app.telebirr.et/service-openup"), "/")

	return &TelebirrGateway{
		baseURL:    apiBase,
		appID:      env.GetEnv("TELEBIRR_APP_ID", ""),
		shortCode:  env.GetEnv("TELEBIRR_SHORT_CODE", ""),
		notifyURL:  strings.TrimRight(env.GetEnv("APP_BASE_URL", "http://localhost:4000"), "/") + "/payment/callback/telebirr",
		returnURL:  base + "/payment/return",
		privateKey: priv,
		publicKey:  pub,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}, nil
}

func (g *TelebirrGateway) Name() string {
	return models.GatewayTelebirr
}

type telebirrOrderResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		PrepayID    string `json:"prepay_id"`
		CheckoutURL string `json:"toPayUrl"`
	} `json:"data"`
}

// CreateCheckout obtains a prepay identifier and a checkout redirect
// URL from the gateway. The request body is signed; the gateway
// rejects unsigned or tampered requests on its side.
func (g *TelebirrGateway) CreateCheckout(ctx context.Context, order *models.PaymentOrder, opts CheckoutOptions) (*CheckoutSession, error) {
	if !order.Amount.IsPositive() {
		return nil, fmt.Errorf("checkout amount must be positive, got %s", order.Amount)
	}

	params := map[string]string{
		"appId":          g.appID,
		"shortCode":      g.shortCode,
		"nonce":          order.OrderID,
		"notifyUrl":      g.notifyURL,
		"returnUrl":      g.returnURL + "?order_id=" + order.OrderID,
		"outTradeNo":     order.OrderID,
		"subject":        order.PlanName + " plan",
		"timeoutExpress": "30",
		"timestamp":      fmt.Sprintf("%d", time.Now().Unix()),
		"totalAmount":    order.Amount.StringFixed(2),
	}
	sign, err := SignSortedParams(params, g.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign telebirr order: %w", err)
	}
	params["sign"] = sign

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/toTradeWebPay", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telebirr order request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telebirr order failed: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var out telebirrOrderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("telebirr order response: %w", err)
	}
	if out.Data.PrepayID == "" || out.Data.CheckoutURL == "" {
		return nil, fmt.Errorf("telebirr order rejected: code=%d message=%s", out.Code, out.Message)
	}

	return &CheckoutSession{
		SessionID:   out.Data.PrepayID,
		CheckoutURL: out.Data.CheckoutURL,
	}, nil
}

// VerifyCallback authenticates a gateway callback. The signature field
// covers all other fields, alphabetically sorted, and must validate
// against the gateway public key before any field is trusted.
func (g *TelebirrGateway) VerifyCallback(params map[string]string) (*GatewayEvent, error) {
	sign := strings.TrimSpace(params["sign"])
	if sign == "" {
		return nil, fmt.Errorf("%w: missing sign field", ErrInvalidSignature)
	}

	signed := make(map[string]string, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" {
			continue
		}
		signed[k] = v
	}
	if err := VerifySortedParams(signed, sign, g.publicKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	amount, _ := decimal.NewFromString(params["total_amount"])
	ev := &GatewayEvent{
		Provider:    models.GatewayTelebirr,
		EventID:     params["transaction_id"],
		EventType:   "trade.notify",
		OrderID:     params["out_trade_no"],
		ExternalRef: params["transaction_id"],
		Amount:      amount,
		Currency:    "ETB",
		Status:      telebirrOutcome(params["trade_status"]),
	}
	if raw, err := json.Marshal(params); err == nil {
		ev.RawJSON = string(raw)
	}
	if ev.EventID == "" {
		ev.EventID = ev.OrderID
	}
	return ev, nil
}

func telebirrOutcome(tradeStatus string) string {
	switch strings.ToLower(strings.TrimSpace(tradeStatus)) {
	case "completed", "success", "2":
		return EventStatusSuccess
	case "cancelled", "canceled", "closed":
		return EventStatusCancelled
	default:
		return EventStatusFailure
	}
}

// SignSortedParams concatenates the fields alphabetically as
// "k1=v1&k2=v2", hashes with SHA-256 and signs with RSA PKCS#1 v1.5.
func SignSortedParams(params map[string]string, key *rsa.PrivateKey) (string, error) {
	digest := sha256.Sum256([]byte(sortedQueryString(params)))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifySortedParams checks an RSA PKCS#1 v1.5 signature over the
// alphabetically sorted field string.
func VerifySortedParams(params map[string]string, signature string, key *rsa.PublicKey) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("signature is not valid base64: %w", err)
	}
	digest := sha256.Sum256([]byte(sortedQueryString(params)))
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig)
}

func sortedQueryString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// ParseRSAPrivateKey reads a PEM-encoded PKCS#1 or PKCS#8 private key.
func ParseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("PEM block is not an RSA private key")
	}
	return key, nil
}

// ParseRSAPublicKey reads a PEM-encoded PKIX or PKCS#1 public key.
func ParseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("PEM block is not an RSA public key")
	}
	return key, nil
}

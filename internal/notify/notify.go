package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notifier delivers best-effort messages when a payer's balance becomes
// insufficient. Delivery failures are never allowed to affect settlement.
type Notifier interface {
	LowBalance(ctx context.Context, payer, token common.Address, balance, required decimal.Decimal) error
}

// LogNotifier writes notifications to the log only.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) LowBalance(_ context.Context, payer, token common.Address, balance, required decimal.Decimal) error {
	n.logger.Warn("payer balance below minimum tip total",
		zap.String("payer", payer.Hex()),
		zap.String("token", token.Hex()),
		zap.String("balance", balance.String()),
		zap.String("required", required.String()),
	)
	return nil
}

// WebhookNotifier POSTs notifications to a configured URL as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

type lowBalancePayload struct {
	Type     string `json:"type"`
	Payer    string `json:"payer"`
	Token    string `json:"token"`
	Balance  string `json:"balance"`
	Required string `json:"required"`
}

func (n *WebhookNotifier) LowBalance(ctx context.Context, payer, token common.Address, balance, required decimal.Decimal) error {
	payload := lowBalancePayload{
		Type:     "low_balance",
		Payer:    payer.Hex(),
		Token:    token.Hex(),
		Balance:  balance.String(),
		Required: required.String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}
	return nil
}

package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"amnezia-bot/internal/domain"
)

const yooKassaAPI = "https://api.yookassa.ru/v3/payments"

// YooKassa talks to the YooKassa payments API. Authentication is basic
// auth with shopID:secretKey; every create request carries a fresh
// Idempotence-Key as the API requires.
type YooKassa struct {
	shopID    string
	secretKey string
	returnURL string
	client    *http.Client
}

func NewYooKassa(shopID, secretKey, returnURL string) *YooKassa {
	return &YooKassa{
		shopID:    shopID,
		secretKey: secretKey,
		returnURL: returnURL,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type yooKassaAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yooKassaCreateRequest struct {
	Amount       yooKassaAmount    `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation map[string]string `json:"confirmation"`
	Description  string            `json:"description"`
}

type yooKassaPayment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Confirmation map[string]string `json:"confirmation"`
}

func (y *YooKassa) CreatePayable(ctx context.Context, amount float64, label string) (Payable, error) {
	body, err := json.Marshal(yooKassaCreateRequest{
		Amount:  yooKassaAmount{Value: fmt.Sprintf("%.2f", amount), Currency: "RUB"},
		Capture: true,
		Confirmation: map[string]string{
			"type":       "redirect",
			"return_url": y.returnURL,
		},
		Description: label,
	})
	if err != nil {
		return Payable{}, errors.Wrap(err, "failed to marshal payment request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, yooKassaAPI, bytes.NewReader(body))
	if err != nil {
		return Payable{}, errors.Wrap(err, "failed to build payment request")
	}
	req.SetBasicAuth(y.shopID, y.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())

	payment, err := y.do(req)
	if err != nil {
		return Payable{}, err
	}

	url, ok := payment.Confirmation["confirmation_url"]
	if !ok {
		return Payable{}, domain.External("yookassa returned no confirmation url", nil)
	}
	return Payable{URL: url, ExternalID: payment.ID}, nil
}

func (y *YooKassa) QueryStatus(ctx context.Context, reference string) (Settlement, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, yooKassaAPI+"/"+reference, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to build status request")
	}
	req.SetBasicAuth(y.shopID, y.secretKey)

	payment, err := y.do(req)
	if err != nil {
		return "", err
	}

	switch payment.Status {
	case "succeeded":
		return SettlementSettled, nil
	case "canceled":
		return SettlementFailed, nil
	default:
		// pending, waiting_for_capture
		return SettlementPending, nil
	}
}

func (y *YooKassa) do(req *http.Request) (*yooKassaPayment, error) {
	resp, err := y.client.Do(req)
	if err != nil {
		return nil, domain.External("yookassa request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.External("failed to read yookassa response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.External(fmt.Sprintf("yookassa api error: %s: %s", resp.Status, body), nil)
	}

	var payment yooKassaPayment
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, domain.External("failed to decode yookassa response", err)
	}
	return &payment, nil
}

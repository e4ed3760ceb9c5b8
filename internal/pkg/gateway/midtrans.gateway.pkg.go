package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront-checkout/internal/common/enum"
	"storefront-checkout/internal/pkg/helper"
	midtransPkg "storefront-checkout/internal/pkg/midtrans"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/samber/lo"
)

const orderAlphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// coreAPI is the slice of coreapi.Client the gateway needs.
type coreAPI interface {
	ChargeTransaction(req *coreapi.ChargeReq) (*coreapi.ChargeResponse, *midtrans.Error)
	CheckTransaction(param string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

type MidtransConfig struct {
	// QRISAcquirer selects the QRIS acquirer ("gopay" or "airpay shopee").
	QRISAcquirer string
	// Expiry overrides Midtrans' own payment windows when positive.
	PushExpiry time.Duration
	PollExpiry time.Duration
}

// MidtransGateway charges directly through the Midtrans Core API instead of
// the storefront backend. The confirm step has no Midtrans counterpart and
// is served by a status check.
type MidtransGateway struct {
	core coreAPI
	cfg  MidtransConfig
}

func NewMidtransGateway(client *midtransPkg.MidtransClient, cfg MidtransConfig) *MidtransGateway {
	return &MidtransGateway{core: client.CoreAPI, cfg: cfg}
}

func (g *MidtransGateway) Create(ctx context.Context, req CreateRequest) (*Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	orderID := req.OrderID
	if orderID == "" {
		id, err := gonanoid.Generate(orderAlphabet, 12)
		if err != nil {
			return nil, fmt.Errorf("failed to generate order id: %w", err)
		}
		orderID = "ORD-" + id
	}

	charge := g.chargeRequest(orderID, req)
	resp, midErr := g.core.ChargeTransaction(charge)
	if midErr != nil {
		return nil, midtransError("create transaction", midErr)
	}

	data, err := helper.JSONToStruct[map[string]any](resp)
	if err != nil || data == nil {
		return nil, &GatewayError{Op: "create transaction", Message: "unreadable charge response", Err: err}
	}
	body := *data

	if code := helper.GetMapStringValue(body, "status_code"); code != "" && !strings.HasPrefix(code, "2") {
		return nil, &GatewayError{
			Op:         "create transaction",
			StatusCode: int(helper.PointerToInt64(helper.GetMapInt64Value(body, "status_code"), 0)),
			Message:    helper.GetMapStringValue(body, "status_message"),
		}
	}

	trx := &Transaction{
		OrderID:         lo.CoalesceOrEmpty(helper.GetMapStringValue(body, "order_id"), orderID),
		PaymentType:     req.PaymentType,
		Amount:          helper.PointerToInt64(helper.GetMapInt64Value(body, "gross_amount"), req.Amount()),
		ReferenceNo:     lo.CoalesceOrEmpty(helper.GetMapStringValue(body, "transaction_id"), orderID),
		ExpiresAt:       helper.GetMapDateTimeValue(body, "expiry_time"),
		ProviderPayload: providerPayload(body),
		Status:          helper.GetMapStringValue(body, "transaction_status"),
	}
	return trx, nil
}

func (g *MidtransGateway) chargeRequest(orderID string, req CreateRequest) *coreapi.ChargeReq {
	items := make([]midtrans.ItemDetails, 0, len(req.Items)+len(req.AddOns))
	for _, item := range req.Items {
		items = append(items, midtrans.ItemDetails{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.UnitPrice,
			Qty:      int32(item.Quantity),
			Category: item.Category,
		})
	}
	for _, addOn := range req.AddOns {
		items = append(items, midtrans.ItemDetails{
			ID:    addOn.ID,
			Name:  addOn.Name,
			Price: addOn.Price,
			Qty:   1,
		})
	}

	charge := &coreapi.ChargeReq{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: req.Amount(),
		},
		CustomerDetails: &midtrans.CustomerDetails{
			FName: req.Name,
			Email: req.Email,
			Phone: req.PhoneNumber,
		},
		Items: &items,
	}

	switch req.PaymentType.Family() {
	case enum.PUSH:
		charge.PaymentType = coreapi.PaymentTypeQris
		charge.Qris = &coreapi.QrisDetails{Acquirer: lo.CoalesceOrEmpty(g.cfg.QRISAcquirer, "gopay")}
		charge.CustomExpiry = customExpiry(g.cfg.PushExpiry)
	case enum.POLL:
		charge.PaymentType = coreapi.PaymentTypeBankTransfer
		charge.BankTransfer = &coreapi.BankTransferDetails{Bank: midtrans.Bank(req.PaymentType)}
		charge.CustomExpiry = customExpiry(g.cfg.PollExpiry)
	case enum.MANUAL:
		charge.PaymentType = coreapi.CoreapiPaymentType("cstore")
		charge.ConvStore = &coreapi.ConvStoreDetails{Store: req.PaymentType.ToString()}
	}
	return charge
}

func customExpiry(d time.Duration) *coreapi.CustomExpiry {
	if d <= 0 {
		return nil
	}
	return &coreapi.CustomExpiry{
		ExpiryDuration: int(d / time.Minute),
		Unit:           "minute",
	}
}

func (g *MidtransGateway) Confirm(ctx context.Context, orderID, referenceNo string) (*StatusResult, error) {
	return g.check("confirm payment", orderID)
}

func (g *MidtransGateway) FetchStatus(ctx context.Context, orderID string) (*StatusResult, error) {
	return g.check("fetch transaction", orderID)
}

func (g *MidtransGateway) check(op, orderID string) (*StatusResult, error) {
	resp, midErr := g.core.CheckTransaction(orderID)
	if midErr != nil {
		return nil, midtransError(op, midErr)
	}
	return &StatusResult{
		OrderID:   orderID,
		Outcome:   MapStatus(resp.TransactionStatus),
		RawStatus: resp.TransactionStatus,
	}, nil
}

func midtransError(op string, midErr *midtrans.Error) *GatewayError {
	return &GatewayError{
		Op:         op,
		StatusCode: midErr.GetStatusCode(),
		Message:    midErr.GetMessage(),
		Err:        midErr,
	}
}

// providerPayload keeps the method-specific fields the payment page renders
// and flattens the first VA number / QR action for convenience.
func providerPayload(body map[string]any) map[string]any {
	keys := []string{
		"qr_string", "actions", "va_numbers", "permata_va_number", "bill_key",
		"biller_code", "payment_code", "store", "acquirer", "transaction_id",
	}
	payload := map[string]any{}
	for _, k := range keys {
		if v, ok := body[k]; ok && v != nil && v != "" {
			payload[k] = v
		}
	}

	if vas, ok := body["va_numbers"].([]any); ok && len(vas) > 0 {
		if first, ok := vas[0].(map[string]any); ok {
			payload["va_number"] = helper.GetMapStringValue(first, "va_number")
			payload["bank"] = helper.GetMapStringValue(first, "bank")
		}
	}
	if permata := helper.GetMapStringValue(body, "permata_va_number"); permata != "" {
		payload["va_number"] = permata
		payload["bank"] = "permata"
	}
	if actions, ok := body["actions"].([]any); ok {
		for _, a := range actions {
			action, ok := a.(map[string]any)
			if !ok {
				continue
			}
			if helper.GetMapStringValue(action, "name") == "generate-qr-code" {
				payload["qr_url"] = helper.GetMapStringValue(action, "url")
			}
		}
	}
	return payload
}

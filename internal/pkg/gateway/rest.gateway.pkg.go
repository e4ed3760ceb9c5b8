package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-checkout/internal/common/enum"
	"storefront-checkout/internal/pkg/helper"
	"storefront-checkout/internal/pkg/jwt"
	"storefront-checkout/internal/pkg/logger"
)

type RESTConfig struct {
	BaseURL       string
	Timeout       time.Duration
	ProxyURL      string
	SkipTLSVerify bool
}

// RESTGateway talks to the storefront backend's transaction endpoints.
type RESTGateway struct {
	client  *helper.HTTPClient
	baseURL string
	tokens  jwt.ITokenSource
}

func NewRESTGateway(cfg *RESTConfig, tokens jwt.ITokenSource) *RESTGateway {
	return &RESTGateway{
		client: helper.NewHTTPClient(&helper.HTTPClientConfig{
			ProxyURL:       cfg.ProxyURL,
			SkipTLSVerify:  cfg.SkipTLSVerify,
			RequestTimeout: cfg.Timeout,
		}),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  tokens,
	}
}

var identityKeys = map[string]struct{}{
	"trx_id": {}, "order_id": {}, "amount": {}, "gross_amount": {}, "expiry": {},
	"expires_at": {}, "expired_at": {}, "expiry_time": {}, "status": {}, "payment_status": {},
	"payment_type": {}, "message": {},
}

func (g *RESTGateway) Create(ctx context.Context, req CreateRequest) (*Transaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	addOns := req.AddOnsIDs
	if addOns == nil {
		addOns = []string{}
	}

	resp, err := g.do(ctx, "create transaction", &helper.HTTPRequestPayload{
		Method: helper.POST,
		URL:    g.baseURL + "/create-transaction",
		Body: map[string]any{
			"name":         req.Name,
			"email":        req.Email,
			"phone_number": req.PhoneNumber,
			"payment_type": req.PaymentType,
			"product_id":   req.ProductID,
			"add_ons_ids":  addOns,
		},
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, responseError("create transaction", resp)
	}

	data := unwrap(resp.Data)
	orderID := helper.GetMapStringValue(data, "trx_id", "order_id")
	if orderID == "" {
		return nil, &GatewayError{
			Op:         "create transaction",
			StatusCode: resp.StatusCode,
			Message:    "response carries no transaction id",
		}
	}

	trx := &Transaction{
		OrderID:         orderID,
		PaymentType:     req.PaymentType,
		Amount:          helper.PointerToInt64(helper.GetMapInt64Value(data, "amount", "gross_amount"), req.Amount()),
		ExpiresAt:       helper.GetMapDateTimeValue(data, "expiry", "expires_at", "expired_at", "expiry_time"),
		ProviderPayload: map[string]any{},
		Status:          helper.GetMapStringValue(data, "payment_status", "status"),
	}
	if pt := enum.PaymentTypeEnum(helper.GetMapStringValue(data, "payment_type")); pt.IsValid() {
		trx.PaymentType = pt
	}
	for k, v := range data {
		if _, skip := identityKeys[k]; !skip {
			trx.ProviderPayload[k] = v
		}
	}
	trx.ReferenceNo = helper.GetMapStringValue(data,
		"reference_no", "referenceNo", "original_reference_no", "originalReferenceNo", "partnerReferenceNo")
	if trx.ReferenceNo == "" {
		trx.ReferenceNo = orderID
	}

	return trx, nil
}

func (g *RESTGateway) Confirm(ctx context.Context, orderID, referenceNo string) (*StatusResult, error) {
	resp, err := g.do(ctx, "confirm payment", &helper.HTTPRequestPayload{
		Method: helper.PUT,
		URL:    g.baseURL + "/confirm-payment/" + url.PathEscape(orderID),
		Body:   map[string]string{"originalReferenceNo": referenceNo},
	})
	if err != nil {
		return nil, err
	}

	if !resp.IsSuccess() {
		gwErr := responseError("confirm payment", resp)
		if isAlreadyConfirmedMessage(gwErr.Message) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyConfirmed, gwErr.Message)
		}
		return nil, gwErr
	}

	data := unwrap(resp.Data)
	raw := helper.GetMapStringValue(data, "status", "payment_status")
	if raw == "" && isAlreadyConfirmedMessage(helper.GetMapStringValue(resp.Data, "message")) {
		return nil, ErrAlreadyConfirmed
	}

	return &StatusResult{OrderID: orderID, Outcome: MapStatus(raw), RawStatus: raw}, nil
}

func (g *RESTGateway) FetchStatus(ctx context.Context, orderID string) (*StatusResult, error) {
	resp, err := g.do(ctx, "fetch transaction", &helper.HTTPRequestPayload{
		Method: helper.GET,
		URL:    g.baseURL + "/transaction/" + url.PathEscape(orderID),
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, responseError("fetch transaction", resp)
	}

	data := unwrap(resp.Data)
	raw := helper.GetMapStringValue(data, "payment_status", "status")
	return &StatusResult{OrderID: orderID, Outcome: MapStatus(raw), RawStatus: raw}, nil
}

// do attaches the bearer credential and retries exactly once with a
// refreshed token when the backend answers 401.
func (g *RESTGateway) do(ctx context.Context, op string, payload *helper.HTTPRequestPayload) (*helper.HTTPAPIResponse, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, &GatewayError{Op: op, Message: "credential unavailable", Err: err}
	}

	resp, err := g.send(ctx, payload, token)
	if err != nil {
		return nil, &GatewayError{Op: op, Message: err.Error(), Err: err}
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	logger.Info.Printf("%s: credential rejected, refreshing and retrying once", op)
	token, err = g.tokens.Refresh(ctx)
	if err != nil {
		return nil, &GatewayError{Op: op, StatusCode: http.StatusUnauthorized, Message: "credential refresh failed", Err: err}
	}

	resp, err = g.send(ctx, payload, token)
	if err != nil {
		return nil, &GatewayError{Op: op, Message: err.Error(), Err: err}
	}
	return resp, nil
}

func (g *RESTGateway) send(ctx context.Context, payload *helper.HTTPRequestPayload, token string) (*helper.HTTPAPIResponse, error) {
	return g.client.Request(payload, &helper.HTTPRequestConfig{
		Ctx:     ctx,
		Headers: http.Header{"Authorization": []string{"Bearer " + token}},
	})
}

// unwrap accepts both bare objects and {"data": {...}} envelopes.
func unwrap(body map[string]any) map[string]any {
	if body == nil {
		return map[string]any{}
	}
	if inner, ok := helper.GetMapObjectValue(body, "data"); ok {
		return inner
	}
	return body
}

func responseError(op string, resp *helper.HTTPAPIResponse) *GatewayError {
	msg := helper.GetMapStringValue(resp.Data, "message", "error", "error_message", "status_message")
	if msg == "" {
		if inner, ok := helper.GetMapObjectValue(resp.Data, "data"); ok {
			msg = helper.GetMapStringValue(inner, "message", "error")
		}
	}
	if msg == "" && resp.Data == nil {
		msg = strings.TrimSpace(string(resp.Raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: msg}
}

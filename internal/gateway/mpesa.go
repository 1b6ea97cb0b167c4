// Package gateway talks to the mobile-money provider's STK push API.
// Request signing and OAuth are handled outside this service; the client
// only forwards a pre-issued bearer token when one is configured.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sacco/internal/domain/models"
	"sacco/internal/utils"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"

	// stillProcessing is returned by the query API while the customer has not answered the prompt.
	stillProcessing = "500.001.1001"
	// userUnreachable means the prompt expired on the handset.
	userUnreachable = "1037"
)

var ErrRejected = errors.New("collection request rejected")

type Config struct {
	BaseURL     string
	Token       string
	ShortCode   string
	CallbackURL string
	Timeout     time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}, now: time.Now}
}

// CollectionRequest is the business-level STK push input.
type CollectionRequest struct {
	Phone            string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode       string `json:"ResponseCode"`
	ResultCode         string `json:"ResultCode"`
	ResultDesc         string `json:"ResultDesc"`
	MpesaReceiptNumber string `json:"MpesaReceiptNumber"`
	ErrorCode          string `json:"errorCode"`
	ErrorMessage       string `json:"errorMessage"`
}

// InitiateCollection sends the STK push and returns the provider's CheckoutRequestID.
func (c *Client) InitiateCollection(ctx context.Context, req CollectionRequest) (string, error) {
	ctx, span := otel.Tracer("sacco/gateway").Start(ctx, "gateway.stk_push", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Timestamp:         utils.GatewayTimestamp(c.now()),
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount.StringFixed(0),
		PartyA:            utils.ToMSISDN(req.Phone),
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       utils.ToMSISDN(req.Phone),
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}

	var out stkPushResponse
	status, err := c.post(ctx, stkPushPath, body, &out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if status >= 300 || out.ResponseCode != "0" || out.CheckoutRequestID == "" {
		err := fmt.Errorf("%w: status=%d code=%s %s%s", ErrRejected, status, out.ResponseCode, out.ResponseDescription, out.ErrorMessage)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("checkout_request_id", out.CheckoutRequestID))
	return out.CheckoutRequestID, nil
}

// QueryStatus asks the provider for the current state of a collection.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (models.PaymentOutcome, error) {
	ctx, span := otel.Tracer("sacco/gateway").Start(ctx, "gateway.stk_query", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("checkout_request_id", checkoutRequestID))

	body := stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Timestamp:         utils.GatewayTimestamp(c.now()),
		CheckoutRequestID: checkoutRequestID,
	}

	var out stkQueryResponse
	status, err := c.post(ctx, stkQueryPath, body, &out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.PaymentOutcome{}, err
	}
	if out.ErrorCode == stillProcessing {
		return models.PaymentOutcome{Status: models.PaymentInitiated, ResultDesc: out.ErrorMessage}, nil
	}
	if status >= 300 {
		err := fmt.Errorf("query status: http %d %s %s", status, out.ErrorCode, out.ErrorMessage)
		span.SetStatus(codes.Error, err.Error())
		return models.PaymentOutcome{}, err
	}
	return outcomeFromResult(out.ResultCode, out.ResultDesc, out.MpesaReceiptNumber), nil
}

func outcomeFromResult(resultCode, desc, receipt string) models.PaymentOutcome {
	switch strings.TrimSpace(resultCode) {
	case "":
		return models.PaymentOutcome{Status: models.PaymentInitiated, ResultDesc: desc}
	case "0":
		return models.PaymentOutcome{Status: models.PaymentCompleted, ReceiptNumber: receipt, ResultDesc: desc}
	case userUnreachable:
		return models.PaymentOutcome{Status: models.PaymentTimedOut, ResultDesc: desc}
	default:
		return models.PaymentOutcome{Status: models.PaymentFailed, ResultDesc: desc}
	}
}

func (c *Client) post(ctx context.Context, path string, in, out any) (int, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response (http %d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}

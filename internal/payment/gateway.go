// Package payment adapts the external payment gateway's form-encoded
// transaction API. The gateway enforces its own rate limits, so callers
// must not retry blindly; the settle task handler consults SearchTrade
// before re-submitting.
package payment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

// JobCd is the gateway's transaction state directive.
type JobCd string

const (
	JobCdAuth   JobCd = "AUTH"
	JobCdSales  JobCd = "SALES"
	JobCdVoid   JobCd = "VOID"
	JobCdReturn JobCd = "RETURN"
)

// TranResult carries the gateway access credentials for one transaction.
type TranResult struct {
	AccessID   string
	AccessPass string
}

// TradeStatus is the gateway-side view of a transaction, used as the
// idempotency source of truth before resubmitting a settlement.
type TradeStatus struct {
	OrderID string
	Status  JobCd
	// Amount in minor units.
	Amount int64
}

// Gateway is the payment gateway contract. Amounts are minor units.
type Gateway interface {
	EntryTran(ctx context.Context, orderID string, jobCd JobCd, amount int64) (TranResult, error)
	ExecTran(ctx context.Context, access TranResult, orderID, cardToken string) error
	AlterTran(ctx context.Context, access TranResult, jobCd JobCd, amount int64) error
	ChangeTran(ctx context.Context, access TranResult, jobCd JobCd, amount int64) error
	SearchTrade(ctx context.Context, orderID string) (TradeStatus, error)
}

// ClientConfig carries the shop credentials; constructed once at process
// start and passed by reference.
type ClientConfig struct {
	Endpoint string
	ShopID   string
	ShopPass string
	Timeout  time.Duration
}

type Client struct {
	cfg  ClientConfig
	http *http.Client
}

const defaultTimeout = 20 * time.Second

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" || cfg.ShopID == "" || cfg.ShopPass == "" {
		return nil, fmt.Errorf("payment gateway configuration: %w", domain.ErrServiceUnavailable)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: timeout}}, nil
}

func (c *Client) EntryTran(ctx context.Context, orderID string, jobCd JobCd, amount int64) (TranResult, error) {
	form := c.shopForm()
	form.Set("OrderID", orderID)
	form.Set("JobCd", string(jobCd))
	form.Set("Amount", strconv.FormatInt(amount, 10))

	values, err := c.call(ctx, "/payment/EntryTran.idPass", form)
	if err != nil {
		return TranResult{}, fmt.Errorf("entry tran: %w", err)
	}
	return TranResult{
		AccessID:   values.Get("AccessID"),
		AccessPass: values.Get("AccessPass"),
	}, nil
}

func (c *Client) ExecTran(ctx context.Context, access TranResult, orderID, cardToken string) error {
	form := url.Values{}
	form.Set("AccessID", access.AccessID)
	form.Set("AccessPass", access.AccessPass)
	form.Set("OrderID", orderID)
	form.Set("Token", cardToken)

	if _, err := c.call(ctx, "/payment/ExecTran.idPass", form); err != nil {
		return fmt.Errorf("exec tran: %w", err)
	}
	return nil
}

func (c *Client) AlterTran(ctx context.Context, access TranResult, jobCd JobCd, amount int64) error {
	form := c.shopForm()
	form.Set("AccessID", access.AccessID)
	form.Set("AccessPass", access.AccessPass)
	form.Set("JobCd", string(jobCd))
	form.Set("Amount", strconv.FormatInt(amount, 10))

	if _, err := c.call(ctx, "/payment/AlterTran.idPass", form); err != nil {
		return fmt.Errorf("alter tran: %w", err)
	}
	return nil
}

func (c *Client) ChangeTran(ctx context.Context, access TranResult, jobCd JobCd, amount int64) error {
	form := c.shopForm()
	form.Set("AccessID", access.AccessID)
	form.Set("AccessPass", access.AccessPass)
	form.Set("JobCd", string(jobCd))
	form.Set("Amount", strconv.FormatInt(amount, 10))

	if _, err := c.call(ctx, "/payment/ChangeTran.idPass", form); err != nil {
		return fmt.Errorf("change tran: %w", err)
	}
	return nil
}

func (c *Client) SearchTrade(ctx context.Context, orderID string) (TradeStatus, error) {
	form := c.shopForm()
	form.Set("OrderID", orderID)

	values, err := c.call(ctx, "/payment/SearchTrade.idPass", form)
	if err != nil {
		return TradeStatus{}, fmt.Errorf("search trade: %w", err)
	}
	amount, _ := strconv.ParseInt(values.Get("Amount"), 10, 64)
	return TradeStatus{
		OrderID: orderID,
		Status:  JobCd(values.Get("Status")),
		Amount:  amount,
	}, nil
}

func (c *Client) shopForm() url.Values {
	form := url.Values{}
	form.Set("ShopID", c.cfg.ShopID)
	form.Set("ShopPass", c.cfg.ShopPass)
	return form
}

// call posts the form and decodes the gateway's key=value response body.
// A populated ErrCode field means the gateway rejected the request.
func (c *Client) call(ctx context.Context, path string, form url.Values) (url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrServiceUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrServiceUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway status %d: %w", resp.StatusCode, domain.ErrServiceUnavailable)
	}

	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse gateway response: %v: %w", err, domain.ErrServiceUnavailable)
	}
	if code := values.Get("ErrCode"); code != "" {
		return nil, fmt.Errorf("gateway error %s/%s: %w", code, values.Get("ErrInfo"), domain.ErrArgument)
	}
	return values, nil
}

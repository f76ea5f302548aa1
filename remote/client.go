package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/rewards"
)

// DefaultTimeout bounds every request made by a Client.
const DefaultTimeout = 10 * time.Second

// Client calls the remote ledger and reward catalog services.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client. Its Timeout is the
// request timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the request timeout on a copy of the current http.Client,
// so a shared client passed to WithHTTPClient is left as it was.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			hc := *c.http
			hc.Timeout = d
			c.http = &hc
		}
	}
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForUser returns the remote ledger scoped to one user.
func (c *Client) ForUser(userID string) *UserLedger {
	return &UserLedger{c: c, userID: userID}
}

// GetReward fetches a reward from the catalog service.
func (c *Client) GetReward(ctx context.Context, rewardID string) (rewards.Reward, error) {
	var resp rewardResponse
	err := c.do(ctx, "GetReward", http.MethodGet, "/v1/rewards/"+url.PathEscape(rewardID), nil, &resp)
	if err != nil {
		var se *points.ServerError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return rewards.Reward{}, fmt.Errorf("%w: %s", rewards.ErrNotFound, rewardID)
		}
		return rewards.Reward{}, err
	}
	return rewards.Reward{
		ID:          resp.ID,
		Name:        resp.Name,
		Description: resp.Description,
		Cost:        resp.Cost,
		Category:    rewards.Category(resp.Category),
		InStock:     resp.InStock,
	}, nil
}

// GetRewardCost implements rewards.Catalog.
func (c *Client) GetRewardCost(ctx context.Context, rewardID string) (int64, error) {
	r, err := c.GetReward(ctx, rewardID)
	if err != nil {
		return 0, err
	}
	return r.Cost, nil
}

// do sends one request. body and out may be nil.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &points.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &points.ServerError{Op: op, Status: resp.StatusCode}
		var e errorResponse
		if b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)); json.Unmarshal(b, &e) == nil {
			se.Message = e.Error
		}
		c.log.Debug("remote call failed", "op", op, "status", resp.StatusCode, "message", se.Message)
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A body cut off mid-read is a transport failure, not a server answer.
		return &points.NetworkError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

var _ rewards.Catalog = (*Client)(nil)

// =============================================================================
// USER LEDGER (points.RemoteLedger)
// =============================================================================

// UserLedger is a points.RemoteLedger for one user.
type UserLedger struct {
	c      *Client
	userID string
}

func (u *UserLedger) path(suffix string) string {
	return "/v1/users/" + url.PathEscape(u.userID) + suffix
}

func (u *UserLedger) GetBalance(ctx context.Context) (int64, error) {
	var resp balanceResponse
	if err := u.c.do(ctx, "GetBalance", http.MethodGet, u.path("/balance"), nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (u *UserLedger) GetTransactions(ctx context.Context, page, pageSize int) (points.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	var resp transactionsResponse
	if err := u.c.do(ctx, "GetTransactions", http.MethodGet, u.path("/transactions?"+q.Encode()), nil, &resp); err != nil {
		return points.Page{}, err
	}

	items := make([]points.Transaction, len(resp.Items))
	for i, d := range resp.Items {
		items[i] = d.toTransaction()
	}
	return points.Page{Items: items, HasMore: resp.HasMore, Page: page, PageSize: pageSize}, nil
}

func (u *UserLedger) TriggerServerReconciliation(ctx context.Context) error {
	return u.c.do(ctx, "TriggerServerReconciliation", http.MethodPost, u.path("/reconcile"), nil, nil)
}

// Record posts an action to the server ledger. Only the twin accepts it; the
// production service records actions through its own event pipeline.
func (u *UserLedger) Record(ctx context.Context, req RecordRequest) (points.Transaction, error) {
	var resp transactionDTO
	if err := u.c.do(ctx, "Record", http.MethodPost, u.path("/transactions"), req, &resp); err != nil {
		return points.Transaction{}, err
	}
	return resp.toTransaction(), nil
}

var _ points.RemoteLedger = (*UserLedger)(nil)

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"spl-sniper-bot/internal/gateway/txsign"
)

// Client talks to the transaction gateway over HTTP. It signs swap actions
// with a monotonic nonce, broadcasts them, polls confirmation status and
// samples recent priority fees.
type Client struct {
	baseURL       string
	http          *http.Client
	signer        *txsign.Signer
	lastNonce     atomic.Uint64
	lastPersisted atomic.Uint64
	nonceStore    NonceStore
	nonceKey      string
	log           *zap.Logger
	persistMu     sync.Mutex
	persistWarned atomic.Bool
}

type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

type NonceState struct {
	Key       string
	Last      uint64
	Persisted uint64
}

func NewClient(baseURL string, timeout time.Duration, signer *txsign.Signer) (*Client, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if baseURL == "" {
		return nil, errors.New("gateway url is required")
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
		},
		signer: signer,
	}, nil
}

func (c *Client) SetLogger(log *zap.Logger) {
	c.log = log
}

type SignedSwap struct {
	Action    txsign.SwapAction `json:"action"`
	Nonce     uint64            `json:"nonce"`
	Signature txsign.Signature  `json:"signature"`
}

type submitResponse struct {
	Status    string `json:"status"`
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// SubmitSwap signs the action with the next nonce and broadcasts it. It
// returns the transaction signature assigned by the gateway.
func (c *Client) SubmitSwap(ctx context.Context, action txsign.SwapAction) (string, error) {
	nonce := c.nextNonce()
	sig, err := c.signer.SignSwapAction(action, nonce)
	if err != nil {
		return "", err
	}
	payload := SignedSwap{Action: action, Nonce: nonce, Signature: sig}
	var resp submitResponse
	if err := c.post(ctx, "/tx", payload, &resp); err != nil {
		return "", err
	}
	if resp.Status != "ok" {
		return "", fmt.Errorf("gateway rejected submission: %s", resp.Error)
	}
	if resp.Signature == "" {
		return "", errors.New("gateway returned empty signature")
	}
	return resp.Signature, nil
}

type ConfirmState string

const (
	ConfirmPending   ConfirmState = "pending"
	ConfirmConfirmed ConfirmState = "confirmed"
	ConfirmFailed    ConfirmState = "failed"
	ConfirmNotFound  ConfirmState = "not_found"
)

type Confirmation struct {
	State      ConfirmState `json:"state"`
	FillPrice  float64      `json:"fillPrice"`
	FillAmount float64      `json:"fillAmount"`
	Error      string       `json:"error,omitempty"`
}

type statusRequest struct {
	Signature string `json:"signature"`
}

func (c *Client) ConfirmationStatus(ctx context.Context, signature string) (Confirmation, error) {
	var resp Confirmation
	if err := c.post(ctx, "/status", statusRequest{Signature: signature}, &resp); err != nil {
		return Confirmation{}, err
	}
	if resp.State == "" {
		resp.State = ConfirmNotFound
	}
	return resp, nil
}

type feeResponse struct {
	MedianPriorityFee uint64 `json:"medianPriorityFee"`
}

// RecentPriorityFee returns the gateway's view of the current median
// priority fee, used to re-anchor the configured fee ramp.
func (c *Client) RecentPriorityFee(ctx context.Context) (uint64, error) {
	var resp feeResponse
	if err := c.post(ctx, "/fees", struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.MedianPriorityFee, nil
}

// InitNonceStore seeds the nonce from persisted state so a restarted process
// never reuses a nonce already sent to the gateway.
func (c *Client) InitNonceStore(ctx context.Context, store NonceStore) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key := nonceStoreKey(c.baseURL, c.signer)
	now := uint64(time.Now().UnixMilli())
	seed := now
	if raw, ok, err := store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		if parsed > seed {
			seed = parsed
		}
	}
	if current := c.lastNonce.Load(); current > seed {
		seed = current
	}
	c.nonceStore = store
	c.nonceKey = key
	c.lastNonce.Store(seed)
	c.lastPersisted.Store(seed)
	return nil
}

func (c *Client) NonceState() (NonceState, bool) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return NonceState{}, false
	}
	return NonceState{
		Key:       c.nonceKey,
		Last:      c.lastNonce.Load(),
		Persisted: c.lastPersisted.Load(),
	}, true
}

func (c *Client) nextNonce() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := c.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if c.lastNonce.CompareAndSwap(prev, next) {
			c.persistNonce(next)
			return next
		}
	}
}

func (c *Client) persistNonce(nonce uint64) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if nonce <= c.lastPersisted.Load() {
		return
	}
	if err := c.nonceStore.Set(context.Background(), c.nonceKey, strconv.FormatUint(nonce, 10)); err != nil {
		c.logPersistError(err)
		return
	}
	c.lastPersisted.Store(nonce)
	c.persistWarned.Store(false)
}

func (c *Client) logPersistError(err error) {
	if c.log == nil {
		return
	}
	if c.persistWarned.CompareAndSwap(false, true) {
		c.log.Warn("nonce persistence failed", zap.String("nonce_key", c.nonceKey), zap.Error(err))
	}
}

func nonceStoreKey(baseURL string, signer *txsign.Signer) string {
	addr := "unknown"
	if signer != nil {
		addr = strings.ToLower(signer.Address().Hex())
	}
	return fmt.Sprintf("gateway:nonce:%s:%s", strings.ToLower(strings.TrimSpace(baseURL)), addr)
}

func (c *Client) post(ctx context.Context, path string, req interface{}, out interface{}) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/model"
)

// API is the part of the REST surface the chat controller drives.
type API interface {
	Snapshot(ctx context.Context, threadID string) (*Snapshot, error)
	AppendMessage(ctx context.Context, threadID string, in SendInput) (*model.Message, error)
	EditMessage(ctx context.Context, threadID, messageID, content string) (*model.Message, error)
	DeleteMessage(ctx context.Context, threadID, messageID string) (*model.Message, error)
	MarkRead(ctx context.Context, threadID string, seq int64) (*model.Thread, error)
	ProposeOffer(ctx context.Context, threadID string, amount model.Money) (*model.Thread, error)
	SetMinPrice(ctx context.Context, threadID string, amount model.Money) (*model.Thread, error)
	Agree(ctx context.Context, threadID string) (*model.Thread, error)
	RevokeAgreement(ctx context.Context, threadID string) (*model.Thread, error)
}

type Snapshot struct {
	Thread *model.Thread  `json:"thread"`
	Typing []model.Typing `json:"typing"`
}

type SendInput struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
	ClientID    string   `json:"client_id"`
}

type CreateThreadInput struct {
	TravelerID    string      `json:"traveler_id"`
	GuideID       string      `json:"guide_id"`
	InitialBudget model.Money `json:"initial_budget"`
	TourRequestID string      `json:"tour_request_id,omitempty"`
}

type Checkout struct {
	Ready      bool         `json:"ready"`
	FinalPrice *model.Money `json:"final_price"`
}

type Suggestion struct {
	Intent       string       `json:"intent"`
	Decision     string       `json:"decision"`
	CounterPrice *model.Money `json:"counter_price,omitempty"`
	Reply        string       `json:"reply"`
	Reasoning    string       `json:"reasoning"`
}

// HTTPClient calls the negotiation service as one party.
type HTTPClient struct {
	baseURL string
	party   model.Sender
	http    *http.Client
}

func NewHTTPClient(baseURL string, party model.Sender, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		party:   party,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Party() model.Sender {
	return c.party
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// do sends one request. Coded API failures come back as *model.Error;
// anything else means the outcome is unknown to the caller.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Party-ID", c.party.PartyID)
	req.Header.Set("X-Party-Role", string(c.party.Role))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e errorBody
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if me := model.LookupError(e.Code, e.Error); me != nil {
			return me
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func threadPath(threadID string, rest ...string) string {
	p := "/threads/" + url.PathEscape(threadID)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *HTTPClient) CreateThread(ctx context.Context, in CreateThreadInput) (*model.Thread, error) {
	var t model.Thread
	if err := c.do(ctx, http.MethodPost, "/threads", in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) ListThreads(ctx context.Context) ([]model.Thread, error) {
	var threads []model.Thread
	if err := c.do(ctx, http.MethodGet, "/threads", nil, &threads); err != nil {
		return nil, err
	}
	return threads, nil
}

func (c *HTTPClient) Snapshot(ctx context.Context, threadID string) (*Snapshot, error) {
	var s Snapshot
	if err := c.do(ctx, http.MethodGet, threadPath(threadID), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) AppendMessage(ctx context.Context, threadID string, in SendInput) (*model.Message, error) {
	var m model.Message
	if err := c.do(ctx, http.MethodPost, threadPath(threadID, "messages"), in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *HTTPClient) EditMessage(ctx context.Context, threadID, messageID, content string) (*model.Message, error) {
	var m model.Message
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPatch, threadPath(threadID, "messages", url.PathEscape(messageID)), body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, threadID, messageID string) (*model.Message, error) {
	var m model.Message
	if err := c.do(ctx, http.MethodDelete, threadPath(threadID, "messages", url.PathEscape(messageID)), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *HTTPClient) threadCall(ctx context.Context, method, path string, body interface{}) (*model.Thread, error) {
	var t model.Thread
	if err := c.do(ctx, method, path, body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *HTTPClient) MarkRead(ctx context.Context, threadID string, seq int64) (*model.Thread, error) {
	return c.threadCall(ctx, http.MethodPost, threadPath(threadID, "read"), map[string]int64{"seq": seq})
}

func (c *HTTPClient) ProposeOffer(ctx context.Context, threadID string, amount model.Money) (*model.Thread, error) {
	return c.threadCall(ctx, http.MethodPost, threadPath(threadID, "offers"), amount)
}

func (c *HTTPClient) SetMinPrice(ctx context.Context, threadID string, amount model.Money) (*model.Thread, error) {
	return c.threadCall(ctx, http.MethodPut, threadPath(threadID, "min-price"), amount)
}

func (c *HTTPClient) Agree(ctx context.Context, threadID string) (*model.Thread, error) {
	return c.threadCall(ctx, http.MethodPost, threadPath(threadID, "agreement"), nil)
}

func (c *HTTPClient) RevokeAgreement(ctx context.Context, threadID string) (*model.Thread, error) {
	return c.threadCall(ctx, http.MethodDelete, threadPath(threadID, "agreement"), nil)
}

func (c *HTTPClient) Cancel(ctx context.Context, threadID, reason string) (*model.Thread, error) {
	return c.threadCall(ctx, http.MethodPost, threadPath(threadID, "cancel"), map[string]string{"reason": reason})
}

func (c *HTTPClient) Reject(ctx context.Context, threadID, reason string) (*model.Thread, error) {
	return c.threadCall(ctx, http.MethodPost, threadPath(threadID, "reject"), map[string]string{"reason": reason})
}

func (c *HTTPClient) Offers(ctx context.Context, threadID string) ([]model.Offer, error) {
	var offers []model.Offer
	if err := c.do(ctx, http.MethodGet, threadPath(threadID, "offers"), nil, &offers); err != nil {
		return nil, err
	}
	return offers, nil
}

func (c *HTTPClient) Checkout(ctx context.Context, threadID string) (*Checkout, error) {
	var out Checkout
	if err := c.do(ctx, http.MethodGet, threadPath(threadID, "checkout"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Suggest(ctx context.Context, threadID string) (*Suggestion, error) {
	var out Suggestion
	if err := c.do(ctx, http.MethodPost, threadPath(threadID, "suggestion"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

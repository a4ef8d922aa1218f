package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedRequest = errors.New("malformed subscription request")

// SubscriptionRequest is the only inbound message: {"stocks": ["AAPL", "MSFT"]}
type SubscriptionRequest struct {
	Stocks *[]*string `json:"stocks"`
}

// WSResponse is sent back to a client only when error notification is enabled.
type WSResponse struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message,omitempty"`
}

// ParseSubscription decodes a subscription request and returns its symbols with duplicates
// removed, first occurrence wins. An empty list is valid and clears the subscription.
func ParseSubscription(payload []byte) ([]string, error) {
	var req SubscriptionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.Stocks == nil {
		return nil, fmt.Errorf("%w: missing stocks field", ErrMalformedRequest)
	}
	symbols := make([]string, 0, len(*req.Stocks))
	for i, s := range *req.Stocks {
		if s == nil {
			return nil, fmt.Errorf("%w: stocks[%d] is null", ErrMalformedRequest, i)
		}
		symbols = append(symbols, *s)
	}
	return Dedupe(symbols), nil
}

func Dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

type Quote struct {
	Symbol string
	Price  float64
}

// PriceSnapshot encodes as a flat JSON object whose keys keep the subscription order.
type PriceSnapshot []Quote

// Project picks the subscribed symbols out of prices. Symbols missing from prices are omitted.
func Project(prices map[string]float64, symbols []string) PriceSnapshot {
	out := make(PriceSnapshot, 0, len(symbols))
	for _, s := range symbols {
		if p, ok := prices[s]; ok {
			out = append(out, Quote{Symbol: s, Price: p})
		}
	}
	return out
}

func (ps PriceSnapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, q := range ps {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(q.Symbol)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(q.Price)
		if err != nil {
			return nil, fmt.Errorf("encode price for %s: %w", q.Symbol, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

package zalopay

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dipstickit/mickyShop-api/internal/order/service"
)

// Callback is the settlement notification body the gateway posts: data is a
// JSON string, mac authenticates it with key2.
type Callback struct {
	Data string `json:"data"`
	MAC  string `json:"mac"`
	Type int    `json:"type"`
}

type callbackData struct {
	AppID      int    `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	AppUser    string `json:"app_user"`
	Amount     int64  `json:"amount"`
	EmbedData  string `json:"embed_data"`
	Item       string `json:"item"`
	ZPTransID  int64  `json:"zp_trans_id"`
	ServerTime int64  `json:"server_time"`
}

type embedData struct {
	RedirectURL string `json:"redirecturl"`
	OrderID     int64  `json:"orderId"`
}

// HandleCallback verifies the MAC in constant time and settles the embedded
// order. Duplicate deliveries for an already-paid order return a successful
// no-op Settlement; no state changes on signature mismatch.
func (c *Client) HandleCallback(ctx context.Context, cb Callback) (service.Settlement, error) {
	expected := signHex(c.cfg.Key2, cb.Data)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(cb.MAC))) {
		return service.Settlement{}, ErrInvalidSignature
	}

	var data callbackData
	if err := json.Unmarshal([]byte(cb.Data), &data); err != nil {
		return service.Settlement{}, fmt.Errorf("%w: data: %v", ErrMalformedCallback, err)
	}
	var embed embedData
	if err := json.Unmarshal([]byte(data.EmbedData), &embed); err != nil {
		return service.Settlement{}, fmt.Errorf("%w: embed_data: %v", ErrMalformedCallback, err)
	}
	if embed.OrderID == 0 {
		return service.Settlement{}, fmt.Errorf("%w: no order id", ErrMalformedCallback)
	}

	paidAt := c.now()
	if data.ServerTime > 0 {
		paidAt = time.UnixMilli(data.ServerTime)
	}
	return c.orders.Settle(ctx, embed.OrderID, paidAt)
}

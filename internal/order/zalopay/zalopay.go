package zalopay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dipstickit/mickyShop-api/internal/order/domain"
	"github.com/dipstickit/mickyShop-api/internal/order/service"
)

var (
	// ErrGateway covers transport failures and non-success gateway replies.
	// Messages never carry the signing keys or the raw gateway body.
	ErrGateway = errors.New("zalopay gateway error")
	// ErrInvalidSignature is returned when a callback MAC does not verify.
	ErrInvalidSignature = errors.New("invalid callback signature")
	// ErrMalformedCallback is returned when a correctly signed callback
	// cannot be parsed or names no order. Permanent: retrying the same
	// payload can never succeed.
	ErrMalformedCallback = errors.New("malformed callback payload")
)

const (
	SandboxEndpoint = "https://sb-openapi.zalopay.vn/v2/create"
	defaultBankCode = "zalopayapp"
)

type Config struct {
	AppID int
	// Key1 signs outbound create requests, Key2 verifies callbacks.
	Key1 string
	Key2 string
	// Endpoint is the create-transaction URL; defaults to the sandbox.
	Endpoint string
	// CallbackURL is where the gateway posts settlement callbacks.
	CallbackURL string
	// RedirectBase is the client base URL the gateway redirects back to.
	RedirectBase string
	// FixedAmount, when > 0, is sent instead of the order total. The
	// historical sandbox default is 50000; set 0 to charge the real total.
	FixedAmount int64
	BankCode    string
}

// Settler settles orders once a callback verifies; satisfied by
// *service.Service.
type Settler interface {
	Settle(ctx context.Context, orderID int64, paidAt time.Time) (service.Settlement, error)
}

type Client struct {
	cfg    Config
	httpc  *http.Client
	orders Settler
	now    func() time.Time
	nonce  func() string
}

func NewClient(cfg Config, httpc *http.Client, orders Settler) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = SandboxEndpoint
	}
	if cfg.BankCode == "" {
		cfg.BankCode = defaultBankCode
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		cfg:    cfg,
		httpc:  httpc,
		orders: orders,
		now:    time.Now,
		nonce:  func() string { return uuid.NewString()[:8] },
	}
}

type lineItem struct {
	ItemID       int64  `json:"itemid"`
	ItemName     string `json:"itemname"`
	ItemPrice    int64  `json:"itemprice"`
	ItemQuantity int32  `json:"itemquantity"`
}

type createParams struct {
	AppID       int    `json:"app_id"`
	AppUser     string `json:"app_user"`
	AppTransID  string `json:"app_trans_id"`
	EmbedData   string `json:"embed_data"`
	Amount      int64  `json:"amount"`
	Item        string `json:"item"`
	AppTime     int64  `json:"app_time"`
	BankCode    string `json:"bank_code"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	Description string `json:"description"`
	MAC         string `json:"mac"`
	CallbackURL string `json:"callback_url"`
}

type createReply struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	SubReturnCode int    `json:"sub_return_code"`
	OrderURL      string `json:"order_url"`
	ZPTransToken  string `json:"zp_trans_token"`
}

type CreateResult struct {
	AppTransID   string `json:"appTransId"`
	Amount       int64  `json:"amount"`
	OrderURL     string `json:"orderUrl"`
	ZPTransToken string `json:"zpTransToken"`
}

// CreateOrder builds the signed create-transaction request for an order and
// submits it. The order must carry its items with variant -> product ->
// attribute values expanded, since the gateway item names come from there.
func (c *Client) CreateOrder(ctx context.Context, o *domain.Order) (*CreateResult, error) {
	now := c.now()
	// YYMMDD_<orderID>_<nonce>: the date prefix is what gateway-side
	// reconciliation keys on, the random nonce avoids collisions under
	// rapid duplicate calls.
	transID := fmt.Sprintf("%s_%d_%s", now.Format("060102"), o.ID, c.nonce())

	items := make([]lineItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, lineItem{
			ItemID:       it.ID,
			ItemName:     itemName(it),
			ItemPrice:    it.OrderedPrice.IntPart(),
			ItemQuantity: it.OrderedQuantity,
		})
	}
	itemJSON, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}

	embed, err := json.Marshal(map[string]any{
		"redirecturl": fmt.Sprintf("%s/order/%d", strings.TrimRight(c.cfg.RedirectBase, "/"), o.ID),
		"orderId":     o.ID,
	})
	if err != nil {
		return nil, err
	}

	amount := c.cfg.FixedAmount
	if amount <= 0 {
		amount = o.TotalPrice.IntPart()
	}

	params := createParams{
		AppID:       c.cfg.AppID,
		AppUser:     o.FullName,
		AppTransID:  transID,
		EmbedData:   string(embed),
		Amount:      amount,
		Item:        string(itemJSON),
		AppTime:     now.UnixMilli(),
		BankCode:    c.cfg.BankCode,
		Phone:       o.Phone,
		Address:     o.Address,
		Description: fmt.Sprintf("Thanh toán đơn hàng %d", o.ID),
		CallbackURL: c.cfg.CallbackURL,
	}
	params.MAC = signHex(c.cfg.Key1, requestSigningString(params))

	result, err := c.submit(ctx, params)
	if err != nil {
		return nil, err
	}
	result.AppTransID = transID
	result.Amount = amount
	return result, nil
}

// requestSigningString is the canonical pipe-joined input of the request
// MAC. The field order is fixed by the gateway protocol.
func requestSigningString(p createParams) string {
	return fmt.Sprintf("%d|%s|%s|%d|%d|%s|%s",
		p.AppID, p.AppTransID, p.AppUser, p.Amount, p.AppTime, p.EmbedData, p.Item)
}

// itemName joins the product name with the variant's attribute values:
// "Name - attr1, attr2".
func itemName(it domain.OrderItem) string {
	var b strings.Builder
	if it.Variant != nil && it.Variant.Product != nil {
		b.WriteString(it.Variant.Product.Name)
	}
	if it.Variant != nil {
		for i, av := range it.Variant.AttributeValues {
			if i == 0 {
				b.WriteString(" - ")
			} else {
				b.WriteString(", ")
			}
			b.WriteString(av.Value)
		}
	}
	return b.String()
}

func (c *Client) submit(ctx context.Context, params createParams) (*CreateResult, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed", ErrGateway)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrGateway, resp.StatusCode)
	}

	var reply createReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("%w: unreadable response", ErrGateway)
	}
	if reply.ReturnCode != 1 {
		return nil, fmt.Errorf("%w: return_code %d sub_return_code %d", ErrGateway, reply.ReturnCode, reply.SubReturnCode)
	}
	return &CreateResult{OrderURL: reply.OrderURL, ZPTransToken: reply.ZPTransToken}, nil
}

func signHex(key, data string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

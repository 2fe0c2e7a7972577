package zalopay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dipstickit/mickyShop-api/internal/order/domain"
	"github.com/dipstickit/mickyShop-api/internal/order/repo"
	"github.com/dipstickit/mickyShop-api/internal/order/service"
)

const (
	testKey1 = "test-key1-request"
	testKey2 = "test-key2-callback"
)

func testOrder() *domain.Order {
	return &domain.Order{
		ID:            7,
		UserID:        1,
		FullName:      "Nguyen Van A",
		Phone:         "0900000000",
		Address:       "1 Nguyen Hue",
		TotalPrice:    decimal.NewFromInt(399000),
		PaymentMethod: domain.PaymentZaloPay,
		OrderStatus:   domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{
				ID:              11,
				OrderID:         7,
				VariantID:       1,
				OrderedPrice:    decimal.NewFromInt(150000),
				OrderedQuantity: 2,
				Variant: &domain.Variant{
					ID:      1,
					Product: &domain.Product{ID: 1, Name: "T-Shirt"},
					AttributeValues: []domain.AttributeValue{
						{ID: 1, Value: "Red"},
						{ID: 2, Value: "M"},
					},
				},
			},
			{
				ID:              12,
				OrderID:         7,
				VariantID:       2,
				OrderedPrice:    decimal.NewFromInt(99000),
				OrderedQuantity: 1,
				Variant: &domain.Variant{
					ID:      2,
					Product: &domain.Product{ID: 1, Name: "T-Shirt"},
				},
			},
		},
	}
}

func newTestClient(t *testing.T, endpoint string, fixedAmount int64, settler Settler) *Client {
	t.Helper()
	c := NewClient(Config{
		AppID:        2553,
		Key1:         testKey1,
		Key2:         testKey2,
		Endpoint:     endpoint,
		CallbackURL:  "http://localhost:4000/order/zalopay/callback",
		RedirectBase: "http://localhost:3000",
		FixedAmount:  fixedAmount,
	}, &http.Client{Timeout: time.Second}, settler)
	c.now = func() time.Time { return time.Date(2025, 8, 30, 12, 0, 0, 0, time.UTC) }
	c.nonce = func() string { return "cafe0123" }
	return c
}

func TestItemName(t *testing.T) {
	o := testOrder()
	require.Equal(t, "T-Shirt - Red, M", itemName(o.Items[0]))
	require.Equal(t, "T-Shirt", itemName(o.Items[1]))
	require.Equal(t, "", itemName(domain.OrderItem{}))
}

func TestCreateOrderSignsAndSubmits(t *testing.T) {
	var got createParams
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"return_code":    1,
			"return_message": "success",
			"order_url":      "https://sb.zalopay.vn/pay/abc",
			"zp_trans_token": "tok123",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 50000, nil)
	result, err := client.CreateOrder(context.Background(), testOrder())
	require.NoError(t, err)

	require.Equal(t, "250830_7_cafe0123", got.AppTransID)
	require.Equal(t, 2553, got.AppID)
	require.Equal(t, "Nguyen Van A", got.AppUser)
	require.EqualValues(t, 50000, got.Amount)
	require.Equal(t, "zalopayapp", got.BankCode)
	require.Equal(t, "http://localhost:4000/order/zalopay/callback", got.CallbackURL)
	require.Equal(t, "Thanh toán đơn hàng 7", got.Description)

	var embed map[string]any
	require.NoError(t, json.Unmarshal([]byte(got.EmbedData), &embed))
	require.EqualValues(t, 7, embed["orderId"])
	require.Equal(t, "http://localhost:3000/order/7", embed["redirecturl"])

	var items []lineItem
	require.NoError(t, json.Unmarshal([]byte(got.Item), &items))
	require.Len(t, items, 2)
	require.Equal(t, "T-Shirt - Red, M", items[0].ItemName)
	require.EqualValues(t, 150000, items[0].ItemPrice)
	require.EqualValues(t, 2, items[0].ItemQuantity)

	// recompute the MAC over the canonical pipe-joined string
	expected := fmt.Sprintf("%d|%s|%s|%d|%d|%s|%s",
		got.AppID, got.AppTransID, got.AppUser, got.Amount, got.AppTime, got.EmbedData, got.Item)
	mac := hmac.New(sha256.New, []byte(testKey1))
	mac.Write([]byte(expected))
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), got.MAC)

	require.Equal(t, "250830_7_cafe0123", result.AppTransID)
	require.EqualValues(t, 50000, result.Amount)
	require.Equal(t, "https://sb.zalopay.vn/pay/abc", result.OrderURL)
	require.Equal(t, "tok123", result.ZPTransToken)
}

func TestCreateOrderUsesOrderTotalWhenNoFixedAmount(t *testing.T) {
	var got createParams
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"return_code": 1})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0, nil)
	_, err := client.CreateOrder(context.Background(), testOrder())
	require.NoError(t, err)
	require.EqualValues(t, 399000, got.Amount)
}

func TestCreateOrderGatewayErrorsAreRedacted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("secret internal dump"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 50000, nil)
	_, err := client.CreateOrder(context.Background(), testOrder())
	require.ErrorIs(t, err, ErrGateway)
	require.NotContains(t, err.Error(), testKey1)
	require.NotContains(t, err.Error(), "secret internal dump")
}

func TestCreateOrderRejectedByGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"return_code": 2, "sub_return_code": -401})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 50000, nil)
	_, err := client.CreateOrder(context.Background(), testOrder())
	require.ErrorIs(t, err, ErrGateway)
}

func TestCreateOrderConnectionRefused(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", 50000, nil)
	_, err := client.CreateOrder(context.Background(), testOrder())
	require.ErrorIs(t, err, ErrGateway)
}

func signedCallback(t *testing.T, key string, orderID int64, serverTime int64) Callback {
	t.Helper()
	embed, err := json.Marshal(map[string]any{"orderId": orderID, "redirecturl": "http://localhost:3000"})
	require.NoError(t, err)
	data, err := json.Marshal(map[string]any{
		"app_id":       2553,
		"app_trans_id": "250830_7_cafe0123",
		"app_user":     "Nguyen Van A",
		"amount":       50000,
		"embed_data":   string(embed),
		"item":         "[]",
		"zp_trans_id":  123456789,
		"server_time":  serverTime,
	})
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(data)
	return Callback{Data: string(data), MAC: hex.EncodeToString(mac.Sum(nil)), Type: 1}
}

func newSettlerClient(t *testing.T) (*Client, *service.Service, *domain.Order) {
	t.Helper()
	store := repo.NewMemoryStore()
	store.SeedUser(domain.User{ID: 1, Username: "alice01"})
	store.SeedVariant(domain.Variant{ID: 1, ProductID: 1})
	svc := service.New(store, service.Config{})

	o, err := svc.Create(context.Background(), service.CreateInput{
		UserID:        1,
		FullName:      "Nguyen Van A",
		Phone:         "0900000000",
		Address:       "1 Nguyen Hue",
		PaymentMethod: domain.PaymentZaloPay,
		Items:         []service.ItemInput{{VariantID: 1, Price: decimal.NewFromInt(50000), Quantity: 1}},
	})
	require.NoError(t, err)

	client := newTestClient(t, "http://unused", 50000, svc)
	return client, svc, o
}

func TestHandleCallbackSettlesOnce(t *testing.T) {
	ctx := context.Background()
	client, svc, o := newSettlerClient(t)

	serverTime := time.Date(2025, 8, 30, 12, 5, 0, 0, time.UTC).UnixMilli()
	cb := signedCallback(t, testKey2, o.ID, serverTime)

	first, err := client.HandleCallback(ctx, cb)
	require.NoError(t, err)
	require.False(t, first.AlreadyPaid)
	require.Equal(t, o.ID, first.OrderID)

	stored, err := svc.FindOne(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, stored.IsPaid)
	require.Equal(t, serverTime, stored.PaidDate.UnixMilli())

	// at-least-once delivery: the duplicate is a successful no-op
	second, err := client.HandleCallback(ctx, cb)
	require.NoError(t, err)
	require.True(t, second.AlreadyPaid)

	stored, _ = svc.FindOne(ctx, o.ID)
	require.Equal(t, serverTime, stored.PaidDate.UnixMilli())
}

func TestHandleCallbackTamperedPayload(t *testing.T) {
	ctx := context.Background()
	client, svc, o := newSettlerClient(t)

	cb := signedCallback(t, testKey2, o.ID, time.Now().UnixMilli())
	// flip one byte of the signed data
	tampered := cb
	tampered.Data = strings.Replace(cb.Data, "50000", "50001", 1)

	_, err := client.HandleCallback(ctx, tampered)
	require.ErrorIs(t, err, ErrInvalidSignature)

	stored, err := svc.FindOne(ctx, o.ID)
	require.NoError(t, err)
	require.False(t, stored.IsPaid)
}

func TestHandleCallbackWrongKey(t *testing.T) {
	client, _, o := newSettlerClient(t)
	cb := signedCallback(t, "wrong-key", o.ID, time.Now().UnixMilli())
	_, err := client.HandleCallback(context.Background(), cb)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleCallbackMalformedButSigned(t *testing.T) {
	ctx := context.Background()
	client, _, _ := newSettlerClient(t)
	sign := func(data string) Callback {
		mac := hmac.New(sha256.New, []byte(testKey2))
		mac.Write([]byte(data))
		return Callback{Data: data, MAC: hex.EncodeToString(mac.Sum(nil)), Type: 1}
	}

	_, err := client.HandleCallback(ctx, sign("not json"))
	require.ErrorIs(t, err, ErrMalformedCallback)

	_, err = client.HandleCallback(ctx, sign(`{"embed_data": "not json"}`))
	require.ErrorIs(t, err, ErrMalformedCallback)

	_, err = client.HandleCallback(ctx, sign(`{"embed_data": "{}"}`))
	require.ErrorIs(t, err, ErrMalformedCallback)
}

func TestHandleCallbackUnknownOrder(t *testing.T) {
	client, _, _ := newSettlerClient(t)
	cb := signedCallback(t, testKey2, 424242, time.Now().UnixMilli())
	_, err := client.HandleCallback(context.Background(), cb)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

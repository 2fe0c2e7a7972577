package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/dipstickit/mickyShop-api/internal/order/domain"
	"github.com/dipstickit/mickyShop-api/internal/order/repo"
	"github.com/dipstickit/mickyShop-api/internal/order/service"
	"github.com/dipstickit/mickyShop-api/internal/order/zalopay"
	"github.com/dipstickit/mickyShop-api/pkg/idempotency"
	"github.com/dipstickit/mickyShop-api/pkg/logging"
	"github.com/dipstickit/mickyShop-api/pkg/metrics"
)

const serviceName = "order-service"

// userIDHeader carries the caller identity resolved by the auth layer in
// front of this service.
const userIDHeader = "X-User-ID"

type Server struct {
	svc     *service.Service
	gateway *zalopay.Client
	metrics *metrics.ServerMetrics
}

func NewServer(svc *service.Service, gateway *zalopay.Client, m *metrics.ServerMetrics) *Server {
	return &Server{svc: svc, gateway: gateway, metrics: m}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/order", func(r chi.Router) {
		r.Post("/", s.instrument("create_order", s.createOrder))
		r.Get("/", s.instrument("list_orders", s.listOrders))
		r.Get("/user", s.instrument("list_user_orders", s.listUserOrders))

		r.Get("/statistic/revenue", s.instrument("revenue", s.totalRevenue))
		r.Get("/statistic/sales", s.instrument("sales", s.salesByMonth))
		r.Get("/statistic/overview", s.instrument("overview", s.statusOverview))
		r.Get("/statistic/count", s.instrument("count", s.countOrders))

		r.Post("/zalopay/callback", s.instrument("zalopay_callback", s.zalopayCallback))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.instrument("get_order", s.getOrder))
			r.Patch("/", s.instrument("update_order", s.updateOrder))
			r.Patch("/status", s.instrument("update_status", s.updateStatus))
			r.Delete("/", s.instrument("delete_order", s.deleteOrder))
			r.Post("/zalopay", s.instrument("zalopay_create", s.createPayment))
		})
	})

	return r
}

// instrument wraps a handler with the per-handler request counter and
// latency histogram.
func (s *Server) instrument(label string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h(ww, r)
		s.metrics.Requests.WithLabelValues(label, strconv.Itoa(ww.Status())).Inc()
		s.metrics.LatencyMS.WithLabelValues(label).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var in service.CreateInput
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		s.renderError(w, r, errors.Join(repo.ErrValidation, err))
		return
	}
	in.IdempotencyKey = idempotency.Key(r)

	o, err := s.svc.Create(r.Context(), in)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	logging.Log(logging.Fields{Service: serviceName, OrderID: o.ID, UserID: o.UserID, Step: "create", Status: string(o.OrderStatus)})
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, o)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	name := r.URL.Query().Get("name")

	result, err := s.svc.List(r.Context(), page, limit, name)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (s *Server) listUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	statusCode, _ := strconv.Atoi(r.URL.Query().Get("type"))

	result, err := s.svc.ListForUser(r.Context(), userID, statusCode, page, limit)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	o, err := s.svc.FindOne(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, o)
}

func (s *Server) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var in service.UpdateInput
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		s.renderError(w, r, errors.Join(repo.ErrValidation, err))
		return
	}
	o, err := s.svc.Update(r.Context(), id, in)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, o)
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var body struct {
		OrderStatus domain.OrderStatus `json:"orderStatus"`
	}
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		s.renderError(w, r, errors.Join(repo.ErrValidation, err))
		return
	}
	if err := s.svc.UpdateStatus(r.Context(), id, body.OrderStatus); err != nil {
		s.renderError(w, r, err)
		return
	}
	logging.Log(logging.Fields{Service: serviceName, OrderID: id, Step: "update_status", Status: string(body.OrderStatus)})
	render.JSON(w, r, map[string]any{"statusCode": http.StatusOK, "message": "Update success"})
}

func (s *Server) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.svc.Remove(r.Context(), id); err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"statusCode": http.StatusOK, "message": "Delete success"})
}

func (s *Server) totalRevenue(w http.ResponseWriter, r *http.Request) {
	total, err := s.svc.TotalRevenue(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"totalRevenue": total})
}

func (s *Server) salesByMonth(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		s.renderError(w, r, errors.Join(repo.ErrValidation, err))
		return
	}
	sales, err := s.svc.SalesByMonth(r.Context(), year)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, sales)
}

func (s *Server) statusOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.svc.StatusOverview(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, overview)
}

func (s *Server) countOrders(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Count(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]int64{"count": n})
}

// createPayment builds and submits the signed gateway request for the
// caller's own order.
func (s *Server) createPayment(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	userID, err := callerID(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if err := s.svc.CheckOrderUser(r.Context(), id, userID); err != nil {
		s.renderError(w, r, err)
		return
	}
	o, err := s.svc.FindOne(r.Context(), id)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	result, err := s.gateway.CreateOrder(r.Context(), o)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	logging.Log(logging.Fields{Service: serviceName, OrderID: id, UserID: userID, TransID: result.AppTransID, Step: "zalopay_create", Status: "submitted"})
	render.JSON(w, r, result)
}

// zalopayCallback always answers 200 with a gateway-protocol body:
// return_code 1 stops retries on success, -1 stops them on a permanently
// invalid payload, 0 lets the gateway retry transient store failures.
func (s *Server) zalopayCallback(w http.ResponseWriter, r *http.Request) {
	var cb zalopay.Callback
	if err := render.DecodeJSON(r.Body, &cb); err != nil {
		render.JSON(w, r, map[string]any{"return_code": -1, "return_message": "malformed callback"})
		return
	}

	settlement, err := s.gateway.HandleCallback(r.Context(), cb)
	switch {
	case err == nil:
		status := "settled"
		if settlement.AlreadyPaid {
			status = "already_paid"
		}
		logging.Log(logging.Fields{Service: serviceName, OrderID: settlement.OrderID, Step: "zalopay_callback", Status: status})
		render.JSON(w, r, map[string]any{"return_code": 1, "return_message": "success"})
	case errors.Is(err, zalopay.ErrInvalidSignature),
		errors.Is(err, zalopay.ErrMalformedCallback),
		errors.Is(err, repo.ErrNotFound):
		logging.Log(logging.Fields{Service: serviceName, Step: "zalopay_callback", Status: "rejected", Message: err.Error()})
		render.JSON(w, r, map[string]any{"return_code": -1, "return_message": "rejected"})
	default:
		logging.Log(logging.Fields{Service: serviceName, Step: "zalopay_callback", Status: "error", Message: err.Error()})
		render.JSON(w, r, map[string]any{"return_code": 0, "return_message": "retry"})
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, repo.ErrValidation), errors.Is(err, service.ErrInvalidTransition):
		code = http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, zalopay.ErrGateway):
		code = http.StatusBadGateway
	}
	render.Status(r, code)
	render.JSON(w, r, map[string]any{"statusCode": code, "message": err.Error()})
}

func orderID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Join(repo.ErrValidation, errors.New("invalid order id"))
	}
	return id, nil
}

func callerID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.Header.Get(userIDHeader), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Join(repo.ErrValidation, errors.New("missing user identity"))
	}
	return id, nil
}

package repo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dipstickit/mickyShop-api/internal/order/domain"
	"github.com/dipstickit/mickyShop-api/pkg/contracts"
	"github.com/dipstickit/mickyShop-api/pkg/outbox"
)

//go:embed schema.sql
var schemaDDL string

// PostgresStore is the pgx-backed order store. Lifecycle events go into the
// outbox table inside the same transaction as the row they describe.
type PostgresStore struct {
	pool  *pgxpool.Pool
	topic string
}

func NewPostgresStore(pool *pgxpool.Pool, eventTopic string) *PostgresStore {
	return &PostgresStore{pool: pool, topic: eventTopic}
}

var _ OrderRepository = (*PostgresStore)(nil)

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, o *domain.Order, idemKey string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx,
		`INSERT INTO orders(user_id, full_name, phone, address, total_price, payment_method, is_paid, paid_date, order_status)
		 VALUES($1, $2, $3, $4, $5, $6, FALSE, NULL, $7)
		 RETURNING id, created_date, updated_date`,
		o.UserID, o.FullName, o.Phone, o.Address, o.TotalPrice.String(), string(o.PaymentMethod), string(o.OrderStatus),
	).Scan(&o.ID, &o.CreatedDate, &o.UpdatedDate)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		err = tx.QueryRow(ctx,
			`INSERT INTO order_items(order_id, variant_id, ordered_price, ordered_quantity)
			 VALUES($1, $2, $3, $4) RETURNING id`,
			o.ID, it.VariantID, it.OrderedPrice.String(), it.OrderedQuantity,
		).Scan(&it.ID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: variant %d does not exist", ErrValidation, it.VariantID)
			}
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if idemKey != "" {
		if _, err := tx.Exec(ctx,
			`INSERT INTO order_idempotency(idempotency_key, order_id) VALUES($1, $2)`,
			idemKey, o.ID,
		); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateKey
			}
			return err
		}
	}

	if err := s.record(ctx, tx, o.ID, contracts.EventOrderCreated, map[string]any{
		"total_price":    o.TotalPrice.String(),
		"payment_method": string(o.PaymentMethod),
		"order_status":   string(o.OrderStatus),
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) FindIDByIdempotencyKey(ctx context.Context, key string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT order_id FROM order_idempotency WHERE idempotency_key=$1`, key,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64, exp Expand) (*domain.Order, error) {
	o, err := s.scanOrder(s.pool.QueryRow(ctx, selectOrder+` WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.expandOrders(ctx, []*domain.Order{o}, exp); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *PostgresStore) Update(ctx context.Context, o *domain.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE orders
		 SET full_name=$2, phone=$3, address=$4, total_price=$5, payment_method=$6, updated_date=now()
		 WHERE id=$1`,
		o.ID, o.FullName, o.Phone, o.Address, o.TotalPrice.String(), string(o.PaymentMethod),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	// Item correction replaces the whole set.
	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, o.ID); err != nil {
		return err
	}
	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		err = tx.QueryRow(ctx,
			`INSERT INTO order_items(order_id, variant_id, ordered_price, ordered_quantity)
			 VALUES($1, $2, $3, $4) RETURNING id`,
			o.ID, it.VariantID, it.OrderedPrice.String(), it.OrderedQuantity,
		).Scan(&it.ID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: variant %d does not exist", ErrValidation, it.VariantID)
			}
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE orders SET order_status=$2, updated_date=now() WHERE id=$1`,
		id, string(status),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := s.record(ctx, tx, id, contracts.EventOrderStatusChanged, map[string]any{
		"order_status": string(status),
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, q ListQuery) (*Page, error) {
	where := `($1 = ''
		OR o.id::text LIKE '%' || $1 || '%'
		OR o.full_name LIKE '%' || $1 || '%'
		OR u.username LIKE '%' || $1 || '%')`

	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM orders o JOIN users u ON u.id = o.user_id WHERE `+where,
		q.Filter,
	).Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		selectOrderAliased+` FROM orders o JOIN users u ON u.id = o.user_id
		 WHERE `+where+`
		 ORDER BY o.updated_date DESC, o.id DESC
		 LIMIT $2 OFFSET $3`,
		q.Filter, q.Limit, (q.Page-1)*q.Limit,
	)
	if err != nil {
		return nil, err
	}
	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := s.expandOrders(ctx, refs(orders), ExpandListing); err != nil {
		return nil, err
	}
	return newPage(orders, total, q.Page, q.Limit), nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, q UserListQuery) (*Page, error) {
	where := `o.user_id = $1 AND ($2 = '' OR o.order_status = $2)`
	status := ""
	if q.HasStatus {
		status = string(q.Status)
	}

	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM orders o WHERE `+where, q.UserID, status,
	).Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		selectOrderAliased+` FROM orders o
		 WHERE `+where+`
		 ORDER BY o.updated_date DESC, o.id DESC
		 LIMIT $3 OFFSET $4`,
		q.UserID, status, q.Limit, (q.Page-1)*q.Limit,
	)
	if err != nil {
		return nil, err
	}
	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}
	if err := s.expandOrders(ctx, refs(orders), ExpandUserListing); err != nil {
		return nil, err
	}
	return newPage(orders, total, q.Page, q.Limit), nil
}

func (s *PostgresStore) Settle(ctx context.Context, id int64, paidAt time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// is_paid=false in the predicate is the settlement guard: a duplicate
	// callback updates zero rows instead of double-settling.
	tag, err := tx.Exec(ctx,
		`UPDATE orders SET is_paid=TRUE, paid_date=$2, updated_date=now()
		 WHERE id=$1 AND is_paid=FALSE`,
		id, paidAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id).Scan(&exists); err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, tx.Commit(ctx)
	}

	if err := s.record(ctx, tx, id, contracts.EventOrderPaid, map[string]any{
		"paid_date": paidAt.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

func (s *PostgresStore) OwnerID(ctx context.Context, id int64) (int64, error) {
	var userID int64
	err := s.pool.QueryRow(ctx, `SELECT user_id FROM orders WHERE id=$1`, id).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return userID, err
}

func (s *PostgresStore) VariantExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM variants WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	var raw string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_price), 0)::text FROM orders WHERE is_paid = TRUE`,
	).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (s *PostgresStore) SalesByMonth(ctx context.Context, year int) ([]MonthlySales, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payment_method, EXTRACT(MONTH FROM paid_date)::int, SUM(total_price)::text
		 FROM orders
		 WHERE is_paid = TRUE AND paid_date IS NOT NULL AND EXTRACT(YEAR FROM paid_date) = $1
		 GROUP BY payment_method, EXTRACT(MONTH FROM paid_date)`,
		year,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonthlySales
	for rows.Next() {
		var (
			method string
			month  int
			raw    string
		)
		if err := rows.Scan(&method, &month, &raw); err != nil {
			return nil, err
		}
		total, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, MonthlySales{Method: domain.PaymentMethod(method), Month: month, Total: total})
	}
	return out, rows.Err()
}

func (s *PostgresStore) StatusOverview(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT order_status, COUNT(id) FROM orders GROUP BY order_status`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var (
			status string
			total  int64
		)
		if err := rows.Scan(&status, &total); err != nil {
			return nil, err
		}
		out = append(out, StatusCount{Status: domain.OrderStatus(status), Total: total})
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM orders`).Scan(&n)
	return n, err
}

const selectOrder = `SELECT id, user_id, full_name, phone, address, total_price::text,
	payment_method, is_paid, paid_date, order_status, created_date, updated_date
	FROM orders`

const selectOrderAliased = `SELECT o.id, o.user_id, o.full_name, o.phone, o.address, o.total_price::text,
	o.payment_method, o.is_paid, o.paid_date, o.order_status, o.created_date, o.updated_date`

func (s *PostgresStore) scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o        domain.Order
		rawTotal string
		method   string
		status   string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.FullName, &o.Phone, &o.Address, &rawTotal,
		&method, &o.IsPaid, &o.PaidDate, &status, &o.CreatedDate, &o.UpdatedDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.TotalPrice, err = decimal.NewFromString(rawTotal); err != nil {
		return nil, err
	}
	o.PaymentMethod = domain.PaymentMethod(method)
	o.OrderStatus = domain.OrderStatus(status)
	return &o, nil
}

func scanOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()
	var out []domain.Order
	for rows.Next() {
		var (
			o        domain.Order
			rawTotal string
			method   string
			status   string
		)
		err := rows.Scan(&o.ID, &o.UserID, &o.FullName, &o.Phone, &o.Address, &rawTotal,
			&method, &o.IsPaid, &o.PaidDate, &status, &o.CreatedDate, &o.UpdatedDate)
		if err != nil {
			return nil, err
		}
		total, err := decimal.NewFromString(rawTotal)
		if err != nil {
			return nil, err
		}
		o.TotalPrice = total
		o.PaymentMethod = domain.PaymentMethod(method)
		o.OrderStatus = domain.OrderStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}

// expandOrders populates the requested relations with follow-up queries
// batched over the whole order slice.
func (s *PostgresStore) expandOrders(ctx context.Context, orders []*domain.Order, exp Expand) error {
	if len(orders) == 0 {
		return nil
	}

	if exp.User {
		if err := s.expandUsers(ctx, orders); err != nil {
			return err
		}
	}
	if !exp.Items {
		return nil
	}
	if err := s.expandItems(ctx, orders); err != nil {
		return err
	}
	if exp.Variant {
		if err := s.expandVariants(ctx, orders, exp); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) expandUsers(ctx context.Context, orders []*domain.Order) error {
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.UserID)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, full_name, email, phone, password FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	users := map[int64]*domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.Phone, &u.Password); err != nil {
			return err
		}
		users[u.ID] = &u
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, o := range orders {
		if u, ok := users[o.UserID]; ok {
			cp := *u
			o.User = &cp
		}
	}
	return nil
}

func (s *PostgresStore) expandItems(ctx context.Context, orders []*domain.Order) error {
	ids := make([]int64, 0, len(orders))
	byID := make(map[int64]*domain.Order, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
		byID[o.ID] = o
		o.Items = []domain.OrderItem{}
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, variant_id, ordered_price::text, ordered_quantity
		 FROM order_items WHERE order_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it  domain.OrderItem
			raw string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.VariantID, &raw, &it.OrderedQuantity); err != nil {
			return err
		}
		if it.OrderedPrice, err = decimal.NewFromString(raw); err != nil {
			return err
		}
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func (s *PostgresStore) expandVariants(ctx context.Context, orders []*domain.Order, exp Expand) error {
	variantIDs := map[int64]bool{}
	for _, o := range orders {
		for _, it := range o.Items {
			variantIDs[it.VariantID] = true
		}
	}
	if len(variantIDs) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(variantIDs))
	for id := range variantIDs {
		ids = append(ids, id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, sku, product_id FROM variants WHERE id = ANY($1)`, ids)
	if err != nil {
		return err
	}
	variants := map[int64]*domain.Variant{}
	productIDs := map[int64]bool{}
	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.SKU, &v.ProductID); err != nil {
			rows.Close()
			return err
		}
		variants[v.ID] = &v
		productIDs[v.ProductID] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if exp.Product && len(productIDs) > 0 {
		pids := make([]int64, 0, len(productIDs))
		for id := range productIDs {
			pids = append(pids, id)
		}
		prows, err := s.pool.Query(ctx, `SELECT id, name FROM products WHERE id = ANY($1)`, pids)
		if err != nil {
			return err
		}
		products := map[int64]*domain.Product{}
		for prows.Next() {
			var p domain.Product
			if err := prows.Scan(&p.ID, &p.Name); err != nil {
				prows.Close()
				return err
			}
			products[p.ID] = &p
		}
		prows.Close()
		if err := prows.Err(); err != nil {
			return err
		}

		if exp.Images {
			irows, err := s.pool.Query(ctx,
				`SELECT id, product_id, url FROM product_images WHERE product_id = ANY($1) ORDER BY id`, pids)
			if err != nil {
				return err
			}
			for irows.Next() {
				var (
					img domain.Image
					pid int64
				)
				if err := irows.Scan(&img.ID, &pid, &img.URL); err != nil {
					irows.Close()
					return err
				}
				if p, ok := products[pid]; ok {
					p.Images = append(p.Images, img)
				}
			}
			irows.Close()
			if err := irows.Err(); err != nil {
				return err
			}
		}

		for _, v := range variants {
			if p, ok := products[v.ProductID]; ok {
				cp := *p
				v.Product = &cp
			}
		}
	}

	if exp.AttributeValues {
		arows, err := s.pool.Query(ctx,
			`SELECT vav.variant_id, av.id, av.value
			 FROM variant_attribute_values vav
			 JOIN attribute_values av ON av.id = vav.attribute_value_id
			 WHERE vav.variant_id = ANY($1)
			 ORDER BY av.id`, ids)
		if err != nil {
			return err
		}
		for arows.Next() {
			var (
				vid int64
				av  domain.AttributeValue
			)
			if err := arows.Scan(&vid, &av.ID, &av.Value); err != nil {
				arows.Close()
				return err
			}
			if v, ok := variants[vid]; ok {
				v.AttributeValues = append(v.AttributeValues, av)
			}
		}
		arows.Close()
		if err := arows.Err(); err != nil {
			return err
		}
	}

	for _, o := range orders {
		for i := range o.Items {
			if v, ok := variants[o.Items[i].VariantID]; ok {
				cp := *v
				o.Items[i].Variant = &cp
			}
		}
	}
	return nil
}

func (s *PostgresStore) record(ctx context.Context, tx pgx.Tx, orderID int64, eventType string, payload map[string]any) error {
	evt := contracts.Event{
		EventID:   uuid.NewString(),
		OrderID:   orderID,
		Type:      eventType,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
	return outbox.Insert(ctx, tx, evt.EventID, s.topic, fmt.Sprintf("%d", orderID), evt)
}

func newPage(items []domain.Order, total int64, page, limit int) *Page {
	totalPages := int64(0)
	if limit > 0 {
		totalPages = (total + int64(limit) - 1) / int64(limit)
	}
	return &Page{
		Items:       items,
		TotalItems:  total,
		TotalPages:  totalPages,
		CurrentPage: page,
		PageSize:    limit,
	}
}

func refs(orders []domain.Order) []*domain.Order {
	out := make([]*domain.Order, len(orders))
	for i := range orders {
		out[i] = &orders[i]
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

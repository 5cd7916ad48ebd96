package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// PGStore keeps the inventory ledger (products.stock) and the order store in
// one Postgres database so a reservation and its order commit together.
type PGStore struct{ DB *pgxpool.Pool }

var _ Store = (*PGStore)(nil)

func (s *PGStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	// ORDER BY before FOR UPDATE: rows are locked in id order, so two carts
	// sharing products never wait on each other in opposite directions.
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, price, stock, available, updated_at
		FROM products WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int) (int, error) {
	var remaining int
	err := t.tx.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2
		RETURNING stock`, productID, qty).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		var stock int
		if err := t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&stock); err != nil {
			return 0, err
		}
		return 0, outOfStock(productID, stock, qty)
	}
	return remaining, err
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	var key any
	if o.IdempotencyKey != "" {
		key = o.IdempotencyKey
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, kind, customer_name, customer_email, customer_phone, customer_address,
		                   notes, fulfillment_at, subtotal, delivery_fee, total, status, payment_status,
		                   idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)`,
		o.ID, o.Kind, o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.Customer.Address,
		o.Notes, o.FulfillmentAt, o.Subtotal, o.DeliveryFee, o.Total, o.Status, o.PaymentStatus,
		key, o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "orders_idempotency_key_key" {
			return ErrDuplicateKey
		}
		return err
	}

	for _, l := range o.Lines {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO order_lines(order_id, product_id, product_name, unit_price, qty)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, l.ProductID, l.ProductName, l.UnitPrice, l.Qty,
		); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*Order, error) {
	row := t.tx.QueryRow(ctx, selectOrder+` WHERE id=$1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &Error{Kind: KindNotFound, Msg: "order " + id + " not found"}
	}
	return o, err
}

func (t *pgTx) UpdateStatus(ctx context.Context, id string, s Status, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`, id, s, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return &Error{Kind: KindNotFound, Msg: "order " + id + " not found"}
	}
	return nil
}

const selectOrder = `
	SELECT id, kind, customer_name, customer_email, customer_phone, customer_address, notes,
	       fulfillment_at, subtotal, delivery_fee, total, status, payment_status,
	       COALESCE(idempotency_key, ''), created_at, updated_at
	FROM orders`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Kind, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone,
		&o.Customer.Address, &o.Notes, &o.FulfillmentAt, &o.Subtotal, &o.DeliveryFee, &o.Total,
		&o.Status, &o.PaymentStatus, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PGStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, selectOrder+` WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &Error{Kind: KindNotFound, Msg: "order " + id + " not found"}
	}
	if err != nil {
		return nil, classify(err)
	}

	rows, err := s.DB.Query(ctx, `
		SELECT product_id, product_name, unit_price, qty
		FROM order_lines WHERE order_id=$1 ORDER BY product_id`, id)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.UnitPrice, &l.Qty); err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

func (s *PGStore) FindByIdempotencyKey(ctx context.Context, key string) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `SELECT id FROM orders WHERE idempotency_key=$1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &Error{Kind: KindNotFound, Msg: "no order for key"}
	}
	return id, classify(err)
}

func (s *PGStore) ListRecent(ctx context.Context, limit int) ([]Order, error) {
	rows, err := s.DB.Query(ctx, selectOrder+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PGStore) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, price, stock, available, updated_at
	                              FROM products ORDER BY name`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Available, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) GetProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, price, stock, available, updated_at
	                              FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, classify(err)
	}
	return collectProducts(rows)
}

func collectProducts(rows pgx.Rows) (map[string]Product, error) {
	defer rows.Close()
	out := map[string]Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Available, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// PGSettings reads delivery settings from the key/value settings table. Keys
// missing from the table fall back to Defaults.
type PGSettings struct {
	DB       *pgxpool.Pool
	Defaults DeliverySettings
}

func (s *PGSettings) Delivery(ctx context.Context) (DeliverySettings, error) {
	out := s.Defaults
	rows, err := s.DB.Query(ctx, `SELECT key, value FROM settings
	                              WHERE key IN ('delivery_enabled','delivery_fee','delivery_minimum')`)
	if err != nil {
		return out, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return out, err
		}
		switch k {
		case "delivery_enabled":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return out, fmt.Errorf("setting %s: %w", k, err)
			}
			out.Enabled = b
		case "delivery_fee":
			d, err := decimal.NewFromString(v)
			if err != nil {
				return out, fmt.Errorf("setting %s: %w", k, err)
			}
			out.Fee = d
		case "delivery_minimum":
			d, err := decimal.NewFromString(v)
			if err != nil {
				return out, fmt.Errorf("setting %s: %w", k, err)
			}
			out.Minimum = d
		}
	}
	return out, rows.Err()
}

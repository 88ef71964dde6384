// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrItemNotFound возвращается, когда продажа ссылается на несуществующий товар.
var (
	ErrItemNotFound = errors.New("item not found")
	// ErrCustomerNotFound возвращается, если покупатель не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrNegativeAmount возвращается при попытке записать продажу с отрицательной суммой.
	ErrNegativeAmount = errors.New("sale amount must not be negative")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// InsertItem сохраняет товар. Дедупликация идёт по отпечатку содержимого:
// уникальное ограничение в схеме защищает от двойной публикации при
// конкурентных или перезапущенных циклах. Возвращает признак вставки.
func (r *PostgresRepository) InsertItem(ctx context.Context, item model.Item) (bool, error) {
	var inserted bool

	err := r.withRetry(ctx, func() error {
		cmdTag, err := r.pool.Exec(ctx,
			`INSERT INTO products (id, fingerprint, niche, title, body, template, source, quality_score, price_cents, external_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (fingerprint) DO NOTHING`,
			item.ID, item.Fingerprint, item.Niche, item.Title, item.Body, item.Template,
			string(item.Source), item.QualityScore, item.PriceCents, item.ExternalID, item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}

		inserted = cmdTag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}

	return inserted, nil
}

// ItemExists проверяет наличие товара с указанным отпечатком.
func (r *PostgresRepository) ItemExists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE fingerprint = $1)`,
		fingerprint,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}
	return exists, nil
}

// InsertSale записывает продажу и обновляет агрегаты покупателя в одной
// транзакции. Продажа неизменяема после записи.
func (r *PostgresRepository) InsertSale(ctx context.Context, sale model.Sale) (int64, error) {
	if sale.AmountCents < 0 {
		return 0, ErrNegativeAmount
	}

	soldAt := sale.SoldAt
	if soldAt.IsZero() {
		soldAt = time.Now()
	}

	var id int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		err = tx.QueryRow(ctx,
			`INSERT INTO sales (product_id, amount_cents, customer_email, channel, sold_at)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id`,
			sale.ItemID, sale.AmountCents, sale.CustomerEmail, sale.Channel, soldAt,
		).Scan(&id)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				// Некорректный UUID означает то же, что и нарушение FK:
				// такого товара нет.
				if pgErr.Code == pgerrcode.ForeignKeyViolation || pgErr.Code == pgerrcode.InvalidTextRepresentation {
					return fmt.Errorf("%w: %s", ErrItemNotFound, sale.ItemID)
				}
			}
			return fmt.Errorf("insert sale: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO customers (email, first_name, last_name, first_seen_at, purchases, spent_cents, last_activity_at)
			 VALUES ($1, $2, $3, $4, 1, $5, $4)
			 ON CONFLICT (email) DO UPDATE SET
			     first_name = CASE WHEN EXCLUDED.first_name <> '' THEN EXCLUDED.first_name ELSE customers.first_name END,
			     last_name = CASE WHEN EXCLUDED.last_name <> '' THEN EXCLUDED.last_name ELSE customers.last_name END,
			     purchases = customers.purchases + 1,
			     spent_cents = customers.spent_cents + EXCLUDED.spent_cents,
			     last_activity_at = EXCLUDED.last_activity_at`,
			sale.CustomerEmail, sale.FirstName, sale.LastName, soldAt, sale.AmountCents,
		)
		if err != nil {
			return fmt.Errorf("upsert customer: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (r *PostgresRepository) queryItems(ctx context.Context, query string, args ...any) ([]model.Item, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var (
			it     model.Item
			source string
		)
		if err := rows.Scan(&it.ID, &it.Fingerprint, &it.Niche, &it.Title, &it.Body, &it.Template,
			&source, &it.QualityScore, &it.PriceCents, &it.ExternalID, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		it.Source = model.DraftSource(source)
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

const itemColumns = `id, fingerprint, niche, title, body, template, source, quality_score, price_cents, external_id, created_at`

// ItemsCreatedBetween возвращает товары, созданные в интервале [from, to).
func (r *PostgresRepository) ItemsCreatedBetween(ctx context.Context, from, to time.Time) ([]model.Item, error) {
	return r.queryItems(ctx,
		`SELECT `+itemColumns+` FROM products WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`,
		from, to,
	)
}

// AllItems возвращает все товары.
func (r *PostgresRepository) AllItems(ctx context.Context) ([]model.Item, error) {
	return r.queryItems(ctx, `SELECT `+itemColumns+` FROM products ORDER BY created_at`)
}

func (r *PostgresRepository) querySales(ctx context.Context, query string, args ...any) ([]model.Sale, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select sales: %w", err)
	}
	defer rows.Close()

	var sales []model.Sale
	for rows.Next() {
		var s model.Sale
		if err := rows.Scan(&s.ID, &s.ItemID, &s.AmountCents, &s.CustomerEmail, &s.Channel, &s.SoldAt); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return sales, nil
}

const saleColumns = `id, product_id, amount_cents, customer_email, channel, sold_at`

// SalesBetween возвращает продажи в интервале [from, to).
func (r *PostgresRepository) SalesBetween(ctx context.Context, from, to time.Time) ([]model.Sale, error) {
	return r.querySales(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE sold_at >= $1 AND sold_at < $2 ORDER BY sold_at`,
		from, to,
	)
}

// AllSales возвращает все продажи.
func (r *PostgresRepository) AllSales(ctx context.Context) ([]model.Sale, error) {
	return r.querySales(ctx, `SELECT `+saleColumns+` FROM sales ORDER BY sold_at`)
}

// GetCustomer возвращает покупателя по адресу электронной почты.
func (r *PostgresRepository) GetCustomer(ctx context.Context, email string) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT email, first_name, last_name, first_seen_at, purchases, spent_cents, last_activity_at
		 FROM customers WHERE email = $1`,
		email,
	)

	var c model.Customer
	err := row.Scan(&c.Email, &c.FirstName, &c.LastName, &c.FirstSeenAt, &c.Purchases, &c.SpentCents, &c.LastActivityAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}

	return &c, nil
}

// Customers возвращает всех покупателей.
func (r *PostgresRepository) Customers(ctx context.Context) ([]model.Customer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT email, first_name, last_name, first_seen_at, purchases, spent_cents, last_activity_at
		 FROM customers ORDER BY first_seen_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("select customers: %w", err)
	}
	defer rows.Close()

	var res []model.Customer
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.Email, &c.FirstName, &c.LastName, &c.FirstSeenAt, &c.Purchases, &c.SpentCents, &c.LastActivityAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

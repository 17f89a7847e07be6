// Package repository содержит реализацию доступа к данным аукционов в PostgreSQL.
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

	"github.com/mmeshcher/live-auction/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к аукционам, лотам и итоговым ставкам.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
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

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

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

// withRetry повторяет fn при конфликтах сериализации, взаимоблокировках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(r.delays) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delays[i]):
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetAuction возвращает аукцион вместе с лотами в порядке регистрации.
func (r *PostgresRepository) GetAuction(ctx context.Context, auctionID string) (*model.Auction, error) {
	var a model.Auction
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, status, start_date, end_date FROM auctions WHERE id = $1`,
		auctionID,
	).Scan(&a.ID, &a.Title, &status, &a.StartDate, &a.EndDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrAuctionNotFound, auctionID)
		}
		return nil, fmt.Errorf("get auction: %w", err)
	}
	a.Status = model.AuctionStatus(status)

	rows, err := r.pool.Query(ctx,
		`SELECT id, auction_id, name, description, starting_price, status,
		        seller_id, store_name, thumbnail_image_url
		 FROM auction_products
		 WHERE auction_id = $1
		 ORDER BY created_at, id`,
		auctionID,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Product
		var pStatus string
		if err := rows.Scan(&p.ID, &p.AuctionID, &p.Name, &p.Description, &p.StartingPrice,
			&pStatus, &p.SellerID, &p.StoreName, &p.ThumbnailImageURL); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		p.Status = model.ProductStatus(pStatus)
		a.Products = append(a.Products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &a, nil
}

// UpdateAuctionStatus сохраняет статус аукциона. Для ING проставляется дата начала,
// для AFTER дата окончания.
func (r *PostgresRepository) UpdateAuctionStatus(ctx context.Context, auctionID string, status model.AuctionStatus, at time.Time) error {
	query := `UPDATE auctions SET status = $2 WHERE id = $1`
	switch status {
	case model.AuctionStatusIng:
		query = `UPDATE auctions SET status = $2, start_date = COALESCE(start_date, $3) WHERE id = $1`
	case model.AuctionStatusAfter:
		query = `UPDATE auctions SET status = $2, end_date = $3 WHERE id = $1`
	}

	return r.withRetry(ctx, func() error {
		var (
			tag pgconn.CommandTag
			err error
		)
		if status == model.AuctionStatusBefore {
			tag, err = r.pool.Exec(ctx, query, auctionID, string(status))
		} else {
			tag, err = r.pool.Exec(ctx, query, auctionID, string(status), at)
		}
		if err != nil {
			return fmt.Errorf("update auction status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", model.ErrAuctionNotFound, auctionID)
		}
		return nil
	})
}

// UpdateProductProgress сохраняет ход торгов по лоту.
func (r *PostgresRepository) UpdateProductProgress(ctx context.Context, productID string, progress model.Progress) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE auction_products SET progress = $2 WHERE id = $1`,
			productID, string(progress),
		)
		if err != nil {
			return fmt.Errorf("update product progress: %w", err)
		}
		return nil
	})
}

// SaveSettledBids сохраняет итоговые ставки по лоту одной транзакцией.
// Повторная запись той же пары (лот, участник) игнорируется.
func (r *PostgresRepository) SaveSettledBids(ctx context.Context, bids []model.SettledBid) error {
	if len(bids) == 0 {
		return nil
	}

	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		batch := &pgx.Batch{}
		for _, b := range bids {
			batch.Queue(
				`INSERT INTO settled_bids (auction_id, auction_product_id, consumer_id, price, is_winning, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (auction_product_id, consumer_id) DO NOTHING`,
				b.AuctionID, b.ProductID, b.ConsumerID, b.Price, b.IsWinning, b.CreatedAt,
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert settled bids: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// GetSettledBids возвращает итоговые ставки по лоту, победитель первым.
func (r *PostgresRepository) GetSettledBids(ctx context.Context, productID string) ([]model.SettledBid, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT auction_id, auction_product_id, consumer_id, price, is_winning, created_at
		 FROM settled_bids
		 WHERE auction_product_id = $1
		 ORDER BY is_winning DESC, price DESC`,
		productID,
	)
	if err != nil {
		return nil, fmt.Errorf("select settled bids: %w", err)
	}
	defer rows.Close()

	var res []model.SettledBid
	for rows.Next() {
		var b model.SettledBid
		if err := rows.Scan(&b.AuctionID, &b.ProductID, &b.ConsumerID, &b.Price, &b.IsWinning, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan settled bid: %w", err)
		}
		res = append(res, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

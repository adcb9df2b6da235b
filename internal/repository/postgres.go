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
	"github.com/sethvargo/go-retry"

	"github.com/akozyrev/crowdfund-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrCampaignNotFound возвращается, если кампания с указанным id не найдена.
var (
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrCampaignInactive возвращается при операции над мягко удалённой кампанией.
	ErrCampaignInactive = errors.New("campaign is inactive")
	// ErrCampaignEnded возвращается при пожертвовании после истечения срока кампании.
	ErrCampaignEnded = errors.New("campaign deadline has passed")
	// ErrGoalReached возвращается при пожертвовании в кампанию с достигнутой целью,
	// когда политика запрещает перефинансирование.
	ErrGoalReached = errors.New("campaign goal already reached")
	// ErrNotCreator возвращается, если операцию пытается выполнить не создатель кампании.
	ErrNotCreator = errors.New("actor is not the campaign creator")
	// ErrNotEnded возвращается при попытке вывода средств до истечения срока кампании.
	ErrNotEnded = errors.New("campaign has not ended yet")
	// ErrGoalNotMet возвращается при попытке вывода средств из кампании, не достигшей цели.
	ErrGoalNotMet = errors.New("campaign goal not met")
	// ErrAlreadyWithdrawn возвращается при повторной попытке вывода средств.
	ErrAlreadyWithdrawn = errors.New("funds already withdrawn")
	// ErrAlreadyDeleted возвращается при повторном мягком удалении кампании.
	ErrAlreadyDeleted = errors.New("campaign already deleted")
)

// CampaignFilter задаёт необязательные фильтры выборки кампаний.
// Фильтрация — забота читающей стороны: хранилище всегда содержит
// и неактивные кампании.
type CampaignFilter struct {
	Category   *model.Category
	Active     *bool
	TitleQuery string
}

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

// withRetry повторяет fn при временных ошибках БД: сбоях сериализации,
// дедлоках и обрывах соединения. Доменные ошибки не ретраятся.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		if isConnectionError(err) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const campaignColumns = `id, creator, title, description, story, location, image_url,
	goal_gwei, raised_gwei, category, deadline, active, funds_withdrawn,
	COALESCE(metadata_cid, ''), created_at`

func scanCampaign(row pgx.Row) (*model.Campaign, error) {
	var c model.Campaign
	var category int16
	err := row.Scan(
		&c.ID, &c.Creator, &c.Title, &c.Description, &c.Story, &c.Location, &c.ImageURL,
		&c.GoalGwei, &c.RaisedGwei, &category, &c.Deadline, &c.Active, &c.FundsWithdrawn,
		&c.MetadataCID, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Category = model.Category(category)
	return &c, nil
}

// CreateCampaign сохраняет новую кампанию и возвращает её идентификатор.
// Идентификаторы выдаются последовательностью БД и никогда не переиспользуются.
func (r *PostgresRepository) CreateCampaign(ctx context.Context, c *model.Campaign) (int64, error) {
	var id int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO campaigns (creator, title, description, story, location, image_url, goal_gwei, category, deadline)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING id`,
			c.Creator, c.Title, c.Description, c.Story, c.Location, c.ImageURL,
			c.GoalGwei, int16(c.Category), c.Deadline,
		).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("create campaign: %w", err)
	}
	return id, nil
}

// GetCampaign возвращает кампанию по идентификатору.
func (r *PostgresRepository) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := scanCampaign(r.pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// ListCampaigns возвращает кампании в порядке идентификаторов,
// включая неактивные, с опциональными фильтрами читающей стороны.
func (r *PostgresRepository) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns`
	var conds []string
	var args []any

	if filter.Category != nil {
		args = append(args, int16(*filter.Category))
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conds = append(conds, fmt.Sprintf("active = $%d", len(args)))
	}
	if filter.TitleQuery != "" {
		args = append(args, "%"+filter.TitleQuery+"%")
		conds = append(conds, fmt.Sprintf("title ILIKE $%d", len(args)))
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select campaigns: %w", err)
	}
	defer rows.Close()

	return collectCampaigns(rows)
}

// GetCampaignsByCreator возвращает кампании, созданные указанным адресом.
func (r *PostgresRepository) GetCampaignsByCreator(ctx context.Context, creator string) ([]model.Campaign, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE creator = $1 ORDER BY id`,
		creator,
	)
	if err != nil {
		return nil, fmt.Errorf("select campaigns by creator: %w", err)
	}
	defer rows.Close()

	return collectCampaigns(rows)
}

func collectCampaigns(rows pgx.Rows) ([]model.Campaign, error) {
	var res []model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetContributedCampaigns возвращает кампании с ненулевым взносом указанного
// адреса вместе с накопленной суммой взноса.
func (r *PostgresRepository) GetContributedCampaigns(ctx context.Context, contributor string) ([]model.ContributedCampaign, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.creator, c.title, c.description, c.story, c.location, c.image_url,
			c.goal_gwei, c.raised_gwei, c.category, c.deadline, c.active, c.funds_withdrawn,
			COALESCE(c.metadata_cid, ''), c.created_at, ct.amount_gwei
		 FROM contributions ct
		 JOIN campaigns c ON c.id = ct.campaign_id
		 WHERE ct.contributor = $1
		 ORDER BY c.id`,
		contributor,
	)
	if err != nil {
		return nil, fmt.Errorf("select contributed campaigns: %w", err)
	}
	defer rows.Close()

	var res []model.ContributedCampaign
	for rows.Next() {
		var cc model.ContributedCampaign
		var category int16
		c := &cc.Campaign
		err := rows.Scan(
			&c.ID, &c.Creator, &c.Title, &c.Description, &c.Story, &c.Location, &c.ImageURL,
			&c.GoalGwei, &c.RaisedGwei, &category, &c.Deadline, &c.Active, &c.FundsWithdrawn,
			&c.MetadataCID, &c.CreatedAt, &cc.AmountGwei,
		)
		if err != nil {
			return nil, fmt.Errorf("scan contributed campaign: %w", err)
		}
		c.Category = model.Category(category)
		res = append(res, cc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// RecordDonation атомарно увеличивает сумму сбора кампании и накопленный взнос
// жертвователя. Строка кампании блокируется на время транзакции, поэтому
// параллельные пожертвования в одну кампанию сериализуются и не теряются.
func (r *PostgresRepository) RecordDonation(ctx context.Context, id int64, contributor string, amountGwei int64, allowOverfunding bool) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var active, ended, goalMet bool
		err = tx.QueryRow(ctx,
			`SELECT active, deadline < now(), raised_gwei >= goal_gwei
			 FROM campaigns WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&active, &ended, &goalMet)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCampaignNotFound
			}
			return fmt.Errorf("lock campaign: %w", err)
		}

		if !active {
			return ErrCampaignInactive
		}
		if ended {
			return ErrCampaignEnded
		}
		if goalMet && !allowOverfunding {
			return ErrGoalReached
		}

		_, err = tx.Exec(ctx,
			`UPDATE campaigns SET raised_gwei = raised_gwei + $2 WHERE id = $1`,
			id, amountGwei,
		)
		if err != nil {
			return fmt.Errorf("update raised: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO contributions (campaign_id, contributor, amount_gwei)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (campaign_id, contributor)
			 DO UPDATE SET amount_gwei = contributions.amount_gwei + EXCLUDED.amount_gwei`,
			id, contributor, amountGwei,
		)
		if err != nil {
			return fmt.Errorf("upsert contribution: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// ContributionOf возвращает накопленный взнос адреса в кампанию, ноль при отсутствии записи.
func (r *PostgresRepository) ContributionOf(ctx context.Context, id int64, contributor string) (int64, error) {
	var amount int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_gwei), 0) FROM contributions
		 WHERE campaign_id = $1 AND contributor = $2`,
		id, contributor,
	).Scan(&amount)
	if err != nil {
		return 0, fmt.Errorf("select contribution: %w", err)
	}
	return amount, nil
}

// ContributorsOf возвращает адреса с ненулевым взносом в кампанию.
func (r *PostgresRepository) ContributorsOf(ctx context.Context, id int64) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT contributor FROM contributions WHERE campaign_id = $1 ORDER BY contributor`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("select contributors: %w", err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan contributor: %w", err)
		}
		res = append(res, addr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// Withdraw однократно авторизует вывод средств кампании её создателем и
// возвращает выводимую сумму. Флаг funds_withdrawn переключается
// compare-and-set-обновлением под блокировкой строки, поэтому повторный
// вызов при гонке завершится ErrAlreadyWithdrawn.
func (r *PostgresRepository) Withdraw(ctx context.Context, id int64, actor string) (int64, error) {
	var raised int64

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var creator string
		var ended, goalMet, withdrawn bool
		err = tx.QueryRow(ctx,
			`SELECT creator, raised_gwei, deadline < now(), raised_gwei >= goal_gwei, funds_withdrawn
			 FROM campaigns WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&creator, &raised, &ended, &goalMet, &withdrawn)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCampaignNotFound
			}
			return fmt.Errorf("lock campaign: %w", err)
		}

		if !strings.EqualFold(creator, actor) {
			return ErrNotCreator
		}
		if !ended {
			return ErrNotEnded
		}
		if !goalMet {
			return ErrGoalNotMet
		}
		if withdrawn {
			return ErrAlreadyWithdrawn
		}

		cmdTag, err := tx.Exec(ctx,
			`UPDATE campaigns SET funds_withdrawn = TRUE
			 WHERE id = $1 AND funds_withdrawn = FALSE`,
			id,
		)
		if err != nil {
			return fmt.Errorf("set funds_withdrawn: %w", err)
		}
		if cmdTag.RowsAffected() != 1 {
			return ErrAlreadyWithdrawn
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return raised, nil
}

// SoftDelete необратимо помечает кампанию неактивной. Финансовое состояние
// сохраняется для чтения. Повторное удаление завершается ErrAlreadyDeleted.
func (r *PostgresRepository) SoftDelete(ctx context.Context, id int64) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE campaigns SET active = FALSE WHERE id = $1 AND active`,
			id,
		)
		if err != nil {
			return fmt.Errorf("deactivate campaign: %w", err)
		}

		if cmdTag.RowsAffected() == 0 {
			var exists bool
			err = tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`,
				id,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("select campaign existence: %w", err)
			}
			if !exists {
				return ErrCampaignNotFound
			}
			return ErrAlreadyDeleted
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// AddUpdate добавляет запись в ленту новостей кампании от имени её создателя.
// Блокировка строки кампании сериализует вставки. Метка времени берётся
// через clock_timestamp() уже после захвата блокировки: now() фиксируется
// в начале транзакции и при ожидании блокировки дала бы отставшую метку.
func (r *PostgresRepository) AddUpdate(ctx context.Context, id int64, actor, message string) (*model.Update, error) {
	var u model.Update

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var creator string
		err = tx.QueryRow(ctx,
			`SELECT creator FROM campaigns WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&creator)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCampaignNotFound
			}
			return fmt.Errorf("lock campaign: %w", err)
		}

		if !strings.EqualFold(creator, actor) {
			return ErrNotCreator
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO updates (campaign_id, message, posted_at)
			 VALUES ($1, $2, clock_timestamp())
			 RETURNING id, posted_at`,
			id, message,
		).Scan(&u.ID, &u.PostedAt)
		if err != nil {
			return fmt.Errorf("insert update: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	u.CampaignID = id
	u.Message = message
	return &u, nil
}

// GetUpdates возвращает ленту новостей кампании от старых записей к новым.
func (r *PostgresRepository) GetUpdates(ctx context.Context, id int64) ([]model.Update, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("select campaign existence: %w", err)
	}
	if !exists {
		return nil, ErrCampaignNotFound
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, campaign_id, message, posted_at FROM updates
		 WHERE campaign_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("select updates: %w", err)
	}
	defer rows.Close()

	var res []model.Update
	for rows.Next() {
		var u model.Update
		if err := rows.Scan(&u.ID, &u.CampaignID, &u.Message, &u.PostedAt); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		res = append(res, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetCampaignsForPinning возвращает кампании, метаданные которых ещё не
// закреплены во внешнем шлюзе.
func (r *PostgresRepository) GetCampaignsForPinning(ctx context.Context, limit int) ([]model.Campaign, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+campaignColumns+` FROM campaigns
		 WHERE metadata_cid IS NULL
		 ORDER BY id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select campaigns for pinning: %w", err)
	}
	defer rows.Close()

	return collectCampaigns(rows)
}

// SetMetadataCID сохраняет идентификатор закреплённых метаданных кампании.
func (r *PostgresRepository) SetMetadataCID(ctx context.Context, id int64, cid string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE campaigns SET metadata_cid = $2 WHERE id = $1`,
		id, cid,
	)
	if err != nil {
		return fmt.Errorf("set metadata cid: %w", err)
	}
	return nil
}

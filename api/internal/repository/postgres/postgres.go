package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdalla-omar/perkmanager/api/internal/domain"
	"github.com/abdalla-omar/perkmanager/api/internal/repository"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository = (*Repository)(nil)
	_ repository.PerkRepository = (*Repository)(nil)
	_ repository.VoteRepository = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (email, password_hash, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, query, user.Email, user.PasswordHash, user.CreatedAt).Scan(&user.ID)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	return err
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE lower(email) = lower($1)`
	return r.loadUser(ctx, query, email)
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`
	return r.loadUser(ctx, query, id)
}

func (r *Repository) loadUser(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	if err := r.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	memberships, err := r.listMemberships(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	perks, err := r.listUserPerkIDs(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Memberships = memberships
	u.Perks = perks
	return &u, nil
}

// ListUsers returns every user ordered by id. Profiles are not loaded.
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	const query = `SELECT id, email, created_at FROM users ORDER BY id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdatePassword replaces the stored hash.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, hash []byte) error {
	const query = `UPDATE users SET password_hash = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddMembership records a membership unless already present.
func (r *Repository) AddMembership(ctx context.Context, userID int64, membership domain.Membership) (bool, error) {
	const query = `INSERT INTO user_memberships (user_id, membership)
		SELECT id, $2 FROM users WHERE id = $1
		ON CONFLICT (user_id, membership) DO NOTHING`
	tag, err := r.pool.Exec(ctx, query, userID, string(membership))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetUserByID(ctx, userID); err != nil {
		return false, err
	}
	return false, nil
}

// AddUserPerk records perkID as owned by userID.
func (r *Repository) AddUserPerk(ctx context.Context, userID, perkID int64) error {
	const query = `INSERT INTO user_perks (user_id, perk_id) VALUES ($1, $2)
		ON CONFLICT (user_id, perk_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, userID, perkID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return repository.ErrNotFound
	}
	return err
}

func (r *Repository) listMemberships(ctx context.Context, userID int64) ([]domain.Membership, error) {
	const query = `SELECT membership FROM user_memberships WHERE user_id = $1 ORDER BY added_at, membership`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	memberships := make([]domain.Membership, 0)
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		memberships = append(memberships, domain.Membership(m))
	}
	return memberships, rows.Err()
}

func (r *Repository) listUserPerkIDs(ctx context.Context, userID int64) ([]int64, error) {
	const query = `SELECT perk_id FROM user_perks WHERE user_id = $1 ORDER BY added_at, perk_id`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const perkColumns = `p.id, p.description, p.membership, p.product, p.start_date, p.end_date,
	p.upvotes, p.downvotes, p.posted_by, COALESCE(u.email, ''), p.created_at`

const perkFrom = ` FROM perks p LEFT JOIN users u ON u.id = p.posted_by`

// CreatePerk inserts a perk and its ownership row in one transaction.
func (r *Repository) CreatePerk(ctx context.Context, perk *domain.Perk) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		if perk.CreatedAt.IsZero() {
			perk.CreatedAt = time.Now().UTC()
		}
		const insert = `INSERT INTO perks (description, membership, product, start_date, end_date, posted_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, (SELECT email FROM users WHERE id = $6)`
		var email *string
		err := tx.QueryRow(ctx, insert,
			perk.Description, string(perk.Membership), string(perk.Product),
			perk.StartDate, perk.EndDate, perk.PostedBy, perk.CreatedAt,
		).Scan(&perk.ID, &email)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
				return repository.ErrNotFound
			}
			return err
		}
		if email != nil {
			perk.PostedByEmail = *email
		}
		const own = `INSERT INTO user_perks (user_id, perk_id) VALUES ($1, $2)`
		_, err = tx.Exec(ctx, own, perk.PostedBy, perk.ID)
		return err
	})
}

// GetPerkByID fetches a perk by id.
func (r *Repository) GetPerkByID(ctx context.Context, id int64) (*domain.Perk, error) {
	query := `SELECT ` + perkColumns + perkFrom + ` WHERE p.id = $1`
	p, err := scanPerk(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListPerks returns every perk ordered by id.
func (r *Repository) ListPerks(ctx context.Context) ([]domain.Perk, error) {
	return r.queryPerks(ctx, `SELECT `+perkColumns+perkFrom+` ORDER BY p.id`)
}

// ListPerksEndingBetween returns perks whose end date lies in (after, until].
func (r *Repository) ListPerksEndingBetween(ctx context.Context, after, until time.Time) ([]domain.Perk, error) {
	query := `SELECT ` + perkColumns + perkFrom + ` WHERE p.end_date > $1 AND p.end_date <= $2 ORDER BY p.id`
	return r.queryPerks(ctx, query, after, until)
}

// CastVote locks the perk row, toggles the user's vote, and persists both.
func (r *Repository) CastVote(ctx context.Context, perkID, userID int64, cast domain.VoteType) (*domain.Perk, error) {
	var updated domain.Perk
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + perkColumns + perkFrom + ` WHERE p.id = $1 FOR UPDATE OF p`
		perk, err := scanPerk(tx.QueryRow(ctx, query, perkID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repository.ErrNotFound
			}
			return err
		}

		var existing domain.VoteType
		if userID != 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return repository.ErrNotFound
			}
			var current string
			err := tx.QueryRow(ctx, `SELECT vote_type FROM perk_votes WHERE user_id = $1 AND perk_id = $2`, userID, perkID).Scan(&current)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			existing = domain.VoteType(current)
		}

		change := domain.ToggleVote(existing, cast)
		change.Apply(&perk)
		if _, err := tx.Exec(ctx, `UPDATE perks SET upvotes = $2, downvotes = $3 WHERE id = $1`, perk.ID, perk.Upvotes, perk.Downvotes); err != nil {
			return err
		}
		if userID != 0 {
			if err := writeVote(ctx, tx, userID, perkID, change.Next); err != nil {
				return err
			}
		}
		updated = perk
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func writeVote(ctx context.Context, tx pgx.Tx, userID, perkID int64, next domain.VoteType) error {
	if next == "" {
		_, err := tx.Exec(ctx, `DELETE FROM perk_votes WHERE user_id = $1 AND perk_id = $2`, userID, perkID)
		return err
	}
	const upsert = `INSERT INTO perk_votes (user_id, perk_id, vote_type) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, perk_id) DO UPDATE SET vote_type = EXCLUDED.vote_type`
	_, err := tx.Exec(ctx, upsert, userID, perkID, string(next))
	return err
}

func (r *Repository) queryPerks(ctx context.Context, query string, args ...any) ([]domain.Perk, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perks := make([]domain.Perk, 0)
	for rows.Next() {
		p, err := scanPerk(rows)
		if err != nil {
			return nil, err
		}
		perks = append(perks, p)
	}
	return perks, rows.Err()
}

func scanPerk(row pgx.Row) (domain.Perk, error) {
	var (
		p          domain.Perk
		membership string
		product    string
	)
	err := row.Scan(&p.ID, &p.Description, &membership, &product, &p.StartDate, &p.EndDate,
		&p.Upvotes, &p.Downvotes, &p.PostedBy, &p.PostedByEmail, &p.CreatedAt)
	if err != nil {
		return domain.Perk{}, err
	}
	p.Membership = domain.Membership(membership)
	p.Product = domain.Product(product)
	return p, nil
}

func (r *Repository) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

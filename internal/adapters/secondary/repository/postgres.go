package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
)

// Les trois repositories partagent le même pool. Les Find* renvoient (nil, nil)
// quand la ligne n'existe pas : c'est au service de décider si c'est une erreur.

// --- USERS ---

type UserRepo struct {
	db *pgxpool.Pool
}

func NewUserRepo(db *pgxpool.Pool) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, slug, first_name, last_name, COALESCE(avatar, ''), email`

func (r *UserRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Slug, &u.FirstName, &u.LastName, &u.Avatar, &u.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.FullName = strings.TrimSpace(u.FirstName + " " + u.LastName)
	return &u, nil
}

// --- CHANNELS ---

type ChannelRepo struct {
	db *pgxpool.Pool
}

func NewChannelRepo(db *pgxpool.Pool) *ChannelRepo {
	return &ChannelRepo{db: db}
}

const channelColumns = `id, title, slug, status, user_id, created_at, updated_at`

func (r *ChannelRepo) Save(ctx context.Context, ch *domain.Channel) error {
	q := `
		INSERT INTO channels (id, title, slug, status, user_id, created_at, updated_at)
		VALUES (@id, @title, @slug, @status, @user_id, @created_at, @updated_at)
	`
	args := pgx.NamedArgs{
		"id":         ch.ID,
		"title":      ch.Title,
		"slug":       ch.Slug,
		"status":     string(ch.Status),
		"user_id":    ch.UserID,
		"created_at": ch.CreatedAt,
		"updated_at": ch.UpdatedAt,
	}
	if _, err := r.db.Exec(ctx, q, args); err != nil {
		return handleError(err)
	}
	return nil
}

func (r *ChannelRepo) FindByID(ctx context.Context, id string) (*domain.Channel, error) {
	return scanChannel(r.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
}

func (r *ChannelRepo) FindBySlug(ctx context.Context, slug string) (*domain.Channel, error) {
	return scanChannel(r.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE slug = $1`, slug))
}

// ListCreatedAfter : PAGINATION KEYSET ascendante.
// count(*) OVER() est évalué avant le LIMIT : c'est le total filtré par le curseur.
// Les channels privés ne sortent jamais dans le feed global.
func (r *ChannelRepo) ListCreatedAfter(ctx context.Context, after time.Time, limit int) ([]*domain.Channel, int, error) {
	q := `
		SELECT ` + channelColumns + `, count(*) OVER() AS total
		FROM channels
		WHERE created_at > $1 AND status <> 'private'
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, q, after, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	channels := []*domain.Channel{}
	total := 0
	for rows.Next() {
		var ch domain.Channel
		var status string
		if err := rows.Scan(&ch.ID, &ch.Title, &ch.Slug, &status, &ch.UserID, &ch.CreatedAt, &ch.UpdatedAt, &total); err != nil {
			return nil, 0, err
		}
		ch.Status = domain.ChannelStatus(status)
		channels = append(channels, &ch)
	}
	return channels, total, rows.Err()
}

// Connect : la connexion et le bump de updated_at du channel dans la même transaction.
func (r *ChannelRepo) Connect(ctx context.Context, channelID, blockID, userID string, at time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // no-op après Commit

	_, err = tx.Exec(ctx, `
		INSERT INTO connections (channel_id, block_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_id, block_id) DO NOTHING
	`, channelID, blockID, userID, at)
	if err != nil {
		return handleError(err)
	}

	tag, err := tx.Exec(ctx, `UPDATE channels SET updated_at = $1 WHERE id = $2`, at, channelID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("channel", channelID)
	}
	return tx.Commit(ctx)
}

func scanChannel(row pgx.Row) (*domain.Channel, error) {
	var ch domain.Channel
	var status string
	if err := row.Scan(&ch.ID, &ch.Title, &ch.Slug, &status, &ch.UserID, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	ch.Status = domain.ChannelStatus(status)
	return &ch, nil
}

// --- BLOCKS ---

type BlockRepo struct {
	db *pgxpool.Pool
}

func NewBlockRepo(db *pgxpool.Pool) *BlockRepo {
	return &BlockRepo{db: db}
}

const blockColumns = `id, title, COALESCE(content, ''), COALESCE(source_url, ''), user_id, created_at, updated_at`

func (r *BlockRepo) FindByID(ctx context.Context, id string) (*domain.Block, error) {
	var b domain.Block
	err := r.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = $1`, id).
		Scan(&b.ID, &b.Title, &b.Content, &b.SourceURL, &b.UserID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *BlockRepo) ListCreatedAfter(ctx context.Context, after time.Time, limit int) ([]*domain.Block, int, error) {
	q := `
		SELECT ` + blockColumns + `, count(*) OVER() AS total
		FROM blocks
		WHERE created_at > $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, q, after, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	blocks := []*domain.Block{}
	total := 0
	for rows.Next() {
		var b domain.Block
		if err := rows.Scan(&b.ID, &b.Title, &b.Content, &b.SourceURL, &b.UserID, &b.CreatedAt, &b.UpdatedAt, &total); err != nil {
			return nil, 0, err
		}
		blocks = append(blocks, &b)
	}
	return blocks, total, rows.Err()
}

// handleError traduit les erreurs Postgres en erreurs du domaine
func handleError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s already exists", domain.ErrInvalidOperation, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

package user

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"shopchat/internal/apperr"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password, name, first_name, last_name, image, color,
	profile_setup, is_online, last_seen, created_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	u := &User{}
	err := s.Scan(&u.ID, &u.Email, &u.Password, &u.Name, &u.FirstName, &u.LastName, &u.Image,
		&u.Color, &u.ProfileSetup, &u.IsOnline, &u.LastSeen, &u.CreatedAt)
	return u, err
}

func (r *Repository) queryUsers(ctx context.Context, query string, args ...any) ([]*User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal(err, "query users")
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apperr.Internal(err, "scan user")
		}
		users = append(users, u)
	}
	return users, apperr.Internal(rows.Err(), "iterate users")
}

func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.LastSeen = now, now

	query := `INSERT INTO users (id, email, password, name, first_name, last_name, image, color,
		profile_setup, is_online, last_seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.ExecContext(ctx, query, u.ID, u.Email, u.Password, u.Name, u.FirstName,
		u.LastName, u.Image, u.Color, u.ProfileSetup, u.IsOnline, u.LastSeen, u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperr.Validation("email %s is already registered", u.Email)
	}
	return apperr.Internal(err, "insert user")
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "get user by email")
	}
	return u, nil
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.NotFound("user not found")
	}
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "get user by id")
	}
	return u, nil
}

// validIDs drops strings that cannot be user ids, so lookups treat them
// as unknown instead of failing the whole query.
func validIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]*User, error) {
	ids = validIDs(ids)
	if len(ids) == 0 {
		return []*User{}, nil
	}
	return r.queryUsers(ctx, "SELECT "+userColumns+" FROM users WHERE id = ANY($1::uuid[])", ids)
}

// FindExisting returns the subset of ids that belong to registered users.
func (r *Repository) FindExisting(ctx context.Context, ids []string) ([]string, error) {
	ids = validIDs(ids)
	if len(ids) == 0 {
		return []string{}, nil
	}
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM users WHERE id = ANY($1::uuid[])", ids)
	if err != nil {
		return nil, apperr.Internal(err, "find existing users")
	}
	defer rows.Close()

	found := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal(err, "scan user id")
		}
		found = append(found, id)
	}
	return found, apperr.Internal(rows.Err(), "iterate user ids")
}

func (r *Repository) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) (*User, error) {
	row := r.db.QueryRowContext(ctx, `UPDATE users
		SET first_name = $2, last_name = $3, color = $4, image = $5, profile_setup = TRUE
		WHERE id = $1
		RETURNING `+userColumns, id, p.FirstName, p.LastName, p.Color, p.Image)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "update profile")
	}
	return u, nil
}

func (r *Repository) SetOnline(ctx context.Context, id string, online bool, at time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.NotFound("user not found")
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1", id, online, at)
	return apperr.Internal(err, "set online status")
}

func (r *Repository) ListOnline(ctx context.Context) ([]*User, error) {
	return r.queryUsers(ctx, "SELECT "+userColumns+" FROM users WHERE is_online ORDER BY last_seen DESC")
}

func (r *Repository) ListExcept(ctx context.Context, id string) ([]*User, error) {
	return r.queryUsers(ctx, "SELECT "+userColumns+" FROM users WHERE id::text <> $1 ORDER BY first_name, email", id)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchUsers matches term case-insensitively against the names and email,
// treating LIKE wildcards in term literally.
func (r *Repository) SearchUsers(ctx context.Context, term, exclude string) ([]*User, error) {
	pattern := "%" + likeEscaper.Replace(term) + "%"
	q := `SELECT ` + userColumns + ` FROM users
		WHERE id::text <> $2 AND (
			first_name ILIKE $1 ESCAPE '\' OR last_name ILIKE $1 ESCAPE '\' OR
			email ILIKE $1 ESCAPE '\' OR name ILIKE $1 ESCAPE '\')
		ORDER BY first_name, email
		LIMIT 20`
	return r.queryUsers(ctx, q, pattern, exclude)
}

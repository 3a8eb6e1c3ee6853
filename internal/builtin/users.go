package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"apikit/internal/auth"
	"apikit/internal/record"
	"apikit/internal/store"
)

// UsersTable holds sign-in credentials.
const UsersTable = "users"

// ErrUserExists is returned when creating a user with a taken login.
var ErrUserExists = errors.New("user already exists")

// ErrLoginRequired is returned when creating a user without a login.
var ErrLoginRequired = errors.New("login is required")

// User is the public view of a users row.
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

func userFromRecord(r *record.Record) User {
	id, _ := r.ID()
	return User{
		ID:        id,
		Login:     r.String("login"),
		Name:      r.String("name"),
		CreatedAt: r.Int("created_at"),
	}
}

// CreateUser stores a new user with a hashed password.
func CreateUser(ctx context.Context, src store.Source, login, password, name string) (User, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return User{}, ErrLoginRequired
	}
	n, err := src.Count(ctx, UsersTable, "WHERE `login` = ?", login)
	if err != nil {
		return User{}, fmt.Errorf("check login: %w", err)
	}
	if n > 0 {
		return User{}, fmt.Errorf("%s: %w", login, ErrUserExists)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return User{}, err
	}

	row := src.Dispense(UsersTable)
	row.Set("login", login)
	row.Set("password_hash", hash)
	row.Set("name", strings.TrimSpace(name))
	row.Set("created_at", time.Now().Unix())
	if err := src.Persist(ctx, row); err != nil {
		if store.IsUniqueViolation(err) {
			return User{}, fmt.Errorf("%s: %w", login, ErrUserExists)
		}
		return User{}, fmt.Errorf("store user %s: %w", login, err)
	}
	return userFromRecord(row), nil
}

// FindUser returns the user with id, or false when none exists.
func FindUser(ctx context.Context, src store.Source, id int64) (User, bool, error) {
	row, err := src.FindOne(ctx, UsersTable, "WHERE `id` = ?", id)
	if err != nil {
		return User{}, false, fmt.Errorf("find user %d: %w", id, err)
	}
	if row.IsEmpty() {
		return User{}, false, nil
	}
	return userFromRecord(row), true, nil
}

// FindUserByLogin returns the user with login, or false when none exists.
func FindUserByLogin(ctx context.Context, src store.Source, login string) (User, bool, error) {
	row, err := src.FindOne(ctx, UsersTable, "WHERE `login` = ?", strings.TrimSpace(login))
	if err != nil {
		return User{}, false, fmt.Errorf("find user %s: %w", login, err)
	}
	if row.IsEmpty() {
		return User{}, false, nil
	}
	return userFromRecord(row), true, nil
}

// Authenticate checks login and password and returns the matching user.
func Authenticate(ctx context.Context, src store.Source, login, password string) (User, error) {
	row, err := src.FindOne(ctx, UsersTable, "WHERE `login` = ?", strings.TrimSpace(login))
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	if row.IsEmpty() {
		return User{}, auth.ErrInvalidCredentials
	}
	if err := auth.VerifyPassword(row.String("password_hash"), password); err != nil {
		return User{}, err
	}
	return userFromRecord(row), nil
}

// GrantAdmin records userID in the admins table. Granting twice is a no-op.
func GrantAdmin(ctx context.Context, src store.Source, table string, userID int64) error {
	n, err := src.Count(ctx, table, "WHERE `user_id` = ?", userID)
	if err != nil {
		return fmt.Errorf("check admin %d: %w", userID, err)
	}
	if n > 0 {
		return nil
	}
	row := src.Dispense(table)
	row.Set("user_id", userID)
	if err := src.Persist(ctx, row); err != nil && !store.IsUniqueViolation(err) {
		return fmt.Errorf("grant admin %d: %w", userID, err)
	}
	return nil
}

// AdminFromTable returns an admin check that looks userID up in table.
func AdminFromTable(table string) func(ctx context.Context, src store.Source, userID int64) (bool, error) {
	return func(ctx context.Context, src store.Source, userID int64) (bool, error) {
		n, err := src.Count(ctx, table, "WHERE `user_id` = ?", userID)
		if err != nil {
			return false, fmt.Errorf("check admin %d: %w", userID, err)
		}
		return n > 0, nil
	}
}

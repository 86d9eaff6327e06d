// Command createadmin seeds the administrator account. It is a no-op when
// an account with the admin email already exists.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"student-tracker/internal/config"
	"student-tracker/internal/db"
	"student-tracker/internal/logging"
)

// bcryptCost matches the cost used for every stored password.
const bcryptCost = 10

var errNoCarrera = errors.New("no carreras registered; create one before seeding the admin")

type adminAccount struct {
	DatabaseURL     string
	Email           string
	Password        string
	NumeroControl   string
	Nombre          string
	ApellidoPaterno string
	ApellidoMaterno string
}

func main() {
	config.LoadDotEnv()
	if err := run(context.Background(), os.Args[1:], os.Getenv, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logging.Error("createadmin_failed", nil, err)
		os.Exit(1)
	}
}

func parseFlags(args []string, getenv func(string) string, stderr io.Writer) (adminAccount, error) {
	def := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	var acct adminAccount
	fs := pflag.NewFlagSet("createadmin", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&acct.DatabaseURL, "database-url", def("DATABASE_URL", ""), "PostgreSQL connection string")
	fs.StringVar(&acct.Email, "email", def("ADMIN_EMAIL", "admin@admin.com"), "admin email")
	fs.StringVar(&acct.Password, "password", def("ADMIN_PASSWORD", ""), "admin password (or ADMIN_PASSWORD)")
	fs.StringVar(&acct.NumeroControl, "numero-control", "ADMIN001", "control number")
	fs.StringVar(&acct.Nombre, "nombre", "Administrador", "first name")
	fs.StringVar(&acct.ApellidoPaterno, "apellido-paterno", "Principal", "paternal surname")
	fs.StringVar(&acct.ApellidoMaterno, "apellido-materno", "Sistema", "maternal surname")
	if err := fs.Parse(args); err != nil {
		return adminAccount{}, err
	}

	acct.Email = strings.ToLower(strings.TrimSpace(acct.Email))
	switch {
	case acct.DatabaseURL == "":
		return adminAccount{}, errors.New("DATABASE_URL or --database-url is required")
	case acct.Email == "" || !strings.Contains(acct.Email, "@"):
		return adminAccount{}, fmt.Errorf("invalid email %q", acct.Email)
	case len(acct.Password) < 8:
		return adminAccount{}, errors.New("password must be at least 8 characters (set --password or ADMIN_PASSWORD)")
	}
	return acct, nil
}

func run(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	acct, err := parseFlags(args, getenv, os.Stderr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx, acct.DatabaseURL, logging.Default()); err != nil {
		return err
	}
	conn, err := db.Open(ctx, acct.DatabaseURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	created, err := createAdmin(ctx, conn, acct)
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintf(out, "admin user %s already exists\n", acct.Email)
		return nil
	}
	fmt.Fprintf(out, "admin user created: %s\n", acct.Email)
	return nil
}

// createAdmin inserts the admin inside one transaction. It reports false
// when the email is already taken.
func createAdmin(ctx context.Context, conn *sql.DB, acct adminAccount) (bool, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var carreraID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM carreras ORDER BY created_at LIMIT 1`).Scan(&carreraID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errNoCarrera
	}
	if err != nil {
		return false, fmt.Errorf("find carrera: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, acct.Email).Scan(&exists); err != nil {
		return false, fmt.Errorf("check existing admin: %w", err)
	}
	if exists {
		return false, nil
	}

	hash, err := hashPassword(acct.Password)
	if err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, email, numero_control, nombre, apellido_paterno, apellido_materno,
		                   carrera_id, semestre, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, 'admin')`,
		uuid.NewString(), acct.Email, acct.NumeroControl, acct.Nombre,
		acct.ApellidoPaterno, acct.ApellidoMaterno, carreraID, hash)
	if err != nil {
		return false, fmt.Errorf("insert admin: %w", err)
	}
	return true, tx.Commit()
}

func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

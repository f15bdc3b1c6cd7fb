package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jotterhq/azprofile/migrations"
)

// PostgresStore persists profiles in a shared database so a team can point
// multiple workstations at the same endpoint configuration.
type PostgresStore struct {
	DSN string
	db  *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres settings store: %w", err)
	}

	store := &PostgresStore{DSN: dsn, db: db}
	if err := store.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(context.Background(), db, migrations.DriverPostgres); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate postgres profile store: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) configure() error {
	s.db.SetMaxOpenConns(4)
	s.db.SetMaxIdleConns(2)
	s.db.SetConnMaxLifetime(30 * time.Minute)
	return nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) GetProfile(ctx context.Context, name string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
    name,
    endpoint,
    api_key,
    chat_deployment,
    transcription_deployment,
    chat_api_version,
    transcription_api_version,
    uses_translations_route,
    created_at,
    updated_at
FROM profiles
WHERE name = $1`, strings.TrimSpace(name))

	profile, err := scanPostgresProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %q: %w", name, err)
	}
	return profile, nil
}

func (s *PostgresStore) PutProfile(ctx context.Context, profile Profile) (*Profile, error) {
	if err := Validate(profile); err != nil {
		return nil, err
	}

	profile.Name = strings.TrimSpace(profile.Name)
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
INSERT INTO profiles (
    name,
    endpoint,
    api_key,
    chat_deployment,
    transcription_deployment,
    chat_api_version,
    transcription_api_version,
    uses_translations_route,
    created_at,
    updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (name) DO UPDATE SET
    endpoint = EXCLUDED.endpoint,
    api_key = EXCLUDED.api_key,
    chat_deployment = EXCLUDED.chat_deployment,
    transcription_deployment = EXCLUDED.transcription_deployment,
    chat_api_version = EXCLUDED.chat_api_version,
    transcription_api_version = EXCLUDED.transcription_api_version,
    uses_translations_route = EXCLUDED.uses_translations_route,
    updated_at = EXCLUDED.updated_at`,
		profile.Name,
		profile.Endpoint,
		profile.APIKey,
		profile.ChatDeployment,
		profile.TranscriptionDeployment,
		profile.ChatAPIVersion,
		profile.TranscriptionAPIVersion,
		profile.UsesTranslationsRoute,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("put profile %q: %w", profile.Name, err)
	}

	return s.GetProfile(ctx, profile.Name)
}

func (s *PostgresStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT
    name,
    endpoint,
    api_key,
    chat_deployment,
    transcription_deployment,
    chat_api_version,
    transcription_api_version,
    uses_translations_route,
    created_at,
    updated_at
FROM profiles
ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0)
	for rows.Next() {
		profile, err := scanPostgresProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		profiles = append(profiles, *profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile rows: %w", err)
	}
	return profiles, nil
}

func (s *PostgresStore) DeleteProfile(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE name = $1`, strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("delete profile %q: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read delete row count: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPostgresProfile(row rowScanner) (*Profile, error) {
	var profile Profile
	err := row.Scan(
		&profile.Name,
		&profile.Endpoint,
		&profile.APIKey,
		&profile.ChatDeployment,
		&profile.TranscriptionDeployment,
		&profile.ChatAPIVersion,
		&profile.TranscriptionAPIVersion,
		&profile.UsesTranslationsRoute,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	profile.CreatedAt = profile.CreatedAt.UTC()
	profile.UpdatedAt = profile.UpdatedAt.UTC()
	return &profile, nil
}

package config

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/kbpicker/internal/loggy"
	"github.com/tildaslashalef/kbpicker/internal/ulid"
)

// Setting keys persisted between invocations
const (
	KeyAccessToken   = "auth.access_token"
	KeyAuthEmail     = "auth.email"
	KeyKnowledgeBase = "kb.id"
	KeyConnectionID  = "kb.connection_id"
)

// obfuscated keys are stored through obfuscateToken
var obfuscated = map[string]bool{
	KeyAccessToken: true,
}

// Settings represents a persistent setting in the database
type Settings struct {
	ID        string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SettingsRepository defines operations for managing settings in the database
type SettingsRepository interface {
	// GetSetting retrieves a setting by key, empty when unset
	GetSetting(ctx context.Context, key string) (string, error)

	// GetSettings retrieves multiple settings by prefix
	GetSettings(ctx context.Context, prefix string) (map[string]string, error)

	// SetSetting sets a setting value
	SetSetting(ctx context.Context, key, value string) error

	// DeleteSetting deletes a setting
	DeleteSetting(ctx context.Context, key string) error
}

// SQLSettingsRepository implements SettingsRepository using a SQL database
type SQLSettingsRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLSettingsRepository creates a new SQL settings repository
func NewSQLSettingsRepository(db *sql.DB, logger *loggy.Logger) *SQLSettingsRepository {
	return &SQLSettingsRepository{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// GetSetting retrieves a setting by key
func (r *SQLSettingsRepository) GetSetting(ctx context.Context, key string) (string, error) {
	query, args, err := r.builder.Select("value").
		From("settings").
		Where(sq.Eq{"key": key}).
		Limit(1).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building get setting query: %w", err)
	}

	var value string
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("executing get setting query: %w", err)
	}

	if obfuscated[key] && value != "" {
		return deobfuscateToken(value)
	}

	return value, nil
}

// GetSettings retrieves multiple settings by prefix
func (r *SQLSettingsRepository) GetSettings(ctx context.Context, prefix string) (map[string]string, error) {
	query, args, err := r.builder.Select("key", "value").
		From("settings").
		Where(sq.Like{"key": prefix + "%"}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get settings query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get settings query: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}

		if obfuscated[key] && value != "" {
			value, err = deobfuscateToken(value)
			if err != nil {
				r.logger.Warn("Failed to deobfuscate setting", "key", key, "error", err)
				continue
			}
		}

		settings[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating setting rows: %w", err)
	}

	return settings, nil
}

// SetSetting sets a setting value
func (r *SQLSettingsRepository) SetSetting(ctx context.Context, key, value string) error {
	existingValue, err := r.GetSetting(ctx, key)
	if err != nil {
		return fmt.Errorf("checking for existing setting: %w", err)
	}

	storeValue := value
	if obfuscated[key] && value != "" {
		storeValue = obfuscateToken(value)
	}

	now := time.Now().UTC()

	var query string
	var args []interface{}
	if existingValue == "" {
		query, args, err = r.builder.Insert("settings").
			Columns("id", "key", "value", "created_at", "updated_at").
			Values(ulid.SettingID(), key, storeValue, now, now).
			Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
			ToSql()
	} else {
		query, args, err = r.builder.Update("settings").
			Set("value", storeValue).
			Set("updated_at", now).
			Where(sq.Eq{"key": key}).
			ToSql()
	}
	if err != nil {
		return fmt.Errorf("building set setting query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing set setting query: %w", err)
	}

	return nil
}

// DeleteSetting deletes a setting
func (r *SQLSettingsRepository) DeleteSetting(ctx context.Context, key string) error {
	query, args, err := r.builder.Delete("settings").
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete setting query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete setting query: %w", err)
	}

	return nil
}

// Simple token obfuscation, not encryption. It keeps tokens out of casual
// sqlite3 dumps.

func obfuscateToken(token string) string {
	return "OBFS:" + base64.StdEncoding.EncodeToString([]byte(reverse(token)))
}

func deobfuscateToken(stored string) (string, error) {
	if !strings.HasPrefix(stored, "OBFS:") {
		return stored, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, "OBFS:"))
	if err != nil {
		return "", fmt.Errorf("decoding obfuscated token: %w", err)
	}
	return reverse(string(decoded)), nil
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

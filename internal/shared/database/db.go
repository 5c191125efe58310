package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/mrmushfiq/llm0-chat-gateway/internal/shared/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection is alive
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

const channelColumns = `id, name, base_url, api_key, model_id, rpm_limit, is_enabled,
		       sort_order, created_at, updated_at`

func scanChannel(row interface{ Scan(...any) error }, ch *models.Channel) error {
	return row.Scan(
		&ch.ID,
		&ch.Name,
		&ch.BaseURL,
		&ch.APIKey,
		&ch.ModelID,
		&ch.RPMLimit,
		&ch.IsEnabled,
		&ch.SortOrder,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	)
}

// ListEnabledChannels returns enabled channels in routing order
func (db *DB) ListEnabledChannels(ctx context.Context) ([]models.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE is_enabled = true
		ORDER BY sort_order, id
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var ch models.Channel
		if err := scanChannel(rows, &ch); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return channels, nil
}

// GetChannel retrieves a single channel regardless of its enabled flag
func (db *DB) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE id = $1`

	var ch models.Channel
	err := scanChannel(db.conn.QueryRowContext(ctx, query, id), &ch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("channel %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return &ch, nil
}

// GetSystemConfig returns all key/value overrides from system_config
func (db *DB) GetSystemConfig(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT key, value FROM system_config`)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		values[key] = value
	}

	return values, rows.Err()
}

// ListBlockedIPs returns blocked IPs and CIDR ranges
func (db *DB) ListBlockedIPs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT ip_address FROM blocked_ips`)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("failed to scan blocked ip: %w", err)
		}
		out = append(out, ip)
	}

	return out, rows.Err()
}

// GetUserEmail looks up the display name of a registered user
func (db *DB) GetUserEmail(ctx context.Context, userID int64) (string, error) {
	var email string
	err := db.conn.QueryRowContext(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("database error: %w", err)
	}
	return email, nil
}

// InsertUsage writes a usage record
func (db *DB) InsertUsage(ctx context.Context, rec *models.UsageRecord) error {
	query := `
		INSERT INTO chat_logs (
			request_id, user_id, username, ip_address, channel_id, model_id,
			prompt_tokens, completion_tokens, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	err := db.conn.QueryRowContext(ctx,
		query,
		rec.RequestID,
		rec.UserID,
		rec.Username,
		rec.IPAddress,
		rec.ChannelID,
		rec.ModelID,
		rec.PromptTokens,
		rec.CompletionTokens,
		createdAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to insert usage: %w", err)
	}

	return nil
}

// DeleteUsageBefore removes usage rows created before cutoff
func (db *DB) DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM chat_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete usage: %w", err)
	}
	return res.RowsAffected()
}

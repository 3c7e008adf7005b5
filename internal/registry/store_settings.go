package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"deeplinker/internal/services"
)

// Setting returns the JSON value stored under key or services.ErrNotFound.
func (r *Registry) Setting(ctx context.Context, key string) (json.RawMessage, error) {
	ctx = ensureContext(ctx)
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "registry", "setting", fmt.Sprintf("key %s", key), nil)
	}
	if err != nil {
		return nil, fatal("setting", "query setting", err)
	}
	return json.RawMessage(value), nil
}

// SetSetting stores value as JSON under key, replacing any earlier value.
func (r *Registry) SetSetting(ctx context.Context, key string, value any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return services.ValidationError("registry", "set setting", "key is required")
	}
	var encoded []byte
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return services.ValidationError("registry", "set setting", "value for %s is not valid JSON", key)
		}
		encoded = v
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return services.ValidationError("registry", "set setting", "encode %s: %v", key, err)
		}
		encoded = data
	}
	_, err := r.execWithRetry(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(encoded), formatTime(nowUTC()),
	)
	if err != nil {
		return fatal("set setting", "upsert setting", err)
	}
	return nil
}

// Settings returns every stored setting.
func (r *Registry) Settings(ctx context.Context) (map[string]json.RawMessage, error) {
	ctx = ensureContext(ctx)
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fatal("settings", "query settings", err)
	}
	defer rows.Close()
	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fatal("settings", "scan setting", err)
		}
		out[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fatal("settings", "iterate settings", err)
	}
	return out, nil
}

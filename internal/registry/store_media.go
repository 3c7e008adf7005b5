package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"

	"deeplinker/internal/media"
	"deeplinker/internal/services"
)

const createAttempts = 5

// Put inserts a descriptor under its explicit token. It fails with
// services.ErrDuplicateToken when the token is taken.
func (r *Registry) Put(ctx context.Context, desc MediaDescriptor) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	_, err := r.execWithRetry(ctx,
		`INSERT INTO media (`+mediaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		desc.Token,
		desc.SourceRef,
		string(desc.Kind),
		boolToInt(desc.Protected),
		desc.SourceSize,
		nullableString(desc.Title),
		formatTime(desc.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return services.Wrap(services.ErrDuplicateToken, "registry", "put", fmt.Sprintf("token %s already exists", desc.Token), nil)
		}
		return fatal("put", "insert media", err)
	}
	return nil
}

// Create assigns a fresh random token to desc and inserts it, drawing a new
// token when a collision occurs.
func (r *Registry) Create(ctx context.Context, desc MediaDescriptor) (MediaDescriptor, error) {
	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		token, err := NewToken()
		if err != nil {
			return MediaDescriptor{}, fatal("create", "generate token", err)
		}
		desc.Token = token
		if desc.CreatedAt.IsZero() {
			desc.CreatedAt = nowUTC()
		}
		err = r.Put(ctx, desc)
		if err == nil {
			return desc, nil
		}
		if !errors.Is(err, services.ErrDuplicateToken) {
			return MediaDescriptor{}, err
		}
		lastErr = err
		r.logger.Debug("token collision, drawing another", "attempt", attempt+1)
	}
	return MediaDescriptor{}, fatal("create", fmt.Sprintf("no unique token after %d attempts", createAttempts), lastErr)
}

// Get returns the descriptor for token or services.ErrNotFound.
func (r *Registry) Get(ctx context.Context, token string) (MediaDescriptor, error) {
	ctx = ensureContext(ctx)
	row := r.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE token = ?`, token)
	desc, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MediaDescriptor{}, services.Wrap(services.ErrNotFound, "registry", "get", fmt.Sprintf("token %s", token), nil)
	}
	if err != nil {
		return MediaDescriptor{}, fatal("get", "query media", err)
	}
	return desc, nil
}

// Delete removes the descriptor and its artifacts, then releases the artifact
// blobs. The source reference is left to the caller since it may not be a
// local blob.
func (r *Registry) Delete(ctx context.Context, token string) (MediaDescriptor, error) {
	var (
		desc MediaDescriptor
		refs []string
	)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		refs = refs[:0]
		row := tx.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media WHERE token = ?`, token)
		var err error
		desc, err = scanDescriptor(row)
		if err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, `SELECT storage_ref FROM artifacts WHERE token = ? AND storage_ref IS NOT NULL`, token)
		if err != nil {
			return err
		}
		for rows.Next() {
			var ref string
			if err := rows.Scan(&ref); err != nil {
				rows.Close()
				return err
			}
			refs = append(refs, ref)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM media WHERE token = ?`, token)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return MediaDescriptor{}, services.Wrap(services.ErrNotFound, "registry", "delete", fmt.Sprintf("token %s", token), nil)
	}
	if err != nil {
		return MediaDescriptor{}, fatal("delete", "delete media", err)
	}
	r.releaseBlobs(ctx, refs...)
	return desc, nil
}

// List iterates every descriptor in token order. Each range over the returned
// sequence starts again from the first token.
func (r *Registry) List(ctx context.Context) iter.Seq2[MediaDescriptor, error] {
	return r.ListAfter(ctx, "")
}

// ListAfter iterates descriptors whose token sorts after cursor.
func (r *Registry) ListAfter(ctx context.Context, cursor string) iter.Seq2[MediaDescriptor, error] {
	return func(yield func(MediaDescriptor, error) bool) {
		after := cursor
		for {
			page, err := r.page(ctx, after)
			if err != nil {
				yield(MediaDescriptor{}, err)
				return
			}
			for _, desc := range page {
				if !yield(desc, nil) {
					return
				}
				after = desc.Token
			}
			if len(page) < r.pageSize {
				return
			}
		}
	}
}

// page loads one keyset page fully so no cursor stays open while the caller
// consumes it.
func (r *Registry) page(ctx context.Context, after string) ([]MediaDescriptor, error) {
	ctx = ensureContext(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mediaColumns+` FROM media WHERE token > ? ORDER BY token LIMIT ?`,
		after, r.pageSize,
	)
	if err != nil {
		return nil, fatal("list", "query media page", err)
	}
	defer rows.Close()

	page := make([]MediaDescriptor, 0, r.pageSize)
	for rows.Next() {
		desc, err := scanDescriptor(rows)
		if err != nil {
			return nil, fatal("list", "scan media", err)
		}
		page = append(page, desc)
	}
	if err := rows.Err(); err != nil {
		return nil, fatal("list", "iterate media", err)
	}
	return page, nil
}

// Stats summarizes descriptors per kind and artifacts per status.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{ByKind: map[string]int{}, ByStatus: map[string]int{}}
	if err := r.countGrouped(ctx, `SELECT kind, COUNT(1) FROM media GROUP BY kind`, stats.ByKind, &stats.Media); err != nil {
		return Stats{}, err
	}
	if err := r.countGrouped(ctx, `SELECT status, COUNT(1) FROM artifacts GROUP BY status`, stats.ByStatus, &stats.Artifacts); err != nil {
		return Stats{}, err
	}
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM settings`).Scan(&stats.Settings); err != nil {
		return Stats{}, fatal("stats", "count settings", err)
	}
	return stats, nil
}

func (r *Registry) countGrouped(ctx context.Context, query string, into map[string]int, total *int) error {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return fatal("stats", "query counts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return fatal("stats", "scan counts", err)
		}
		into[key] = count
		*total += count
	}
	if err := rows.Err(); err != nil {
		return fatal("stats", "iterate counts", err)
	}
	return nil
}

func validateDescriptor(desc MediaDescriptor) error {
	if !ValidToken(desc.Token) {
		return services.ValidationError("registry", "put", "invalid token %q", desc.Token)
	}
	if strings.TrimSpace(desc.SourceRef) == "" {
		return services.ValidationError("registry", "put", "source reference is required")
	}
	if _, err := media.ParseKind(string(desc.Kind)); err != nil {
		return services.ValidationError("registry", "put", "%v", err)
	}
	return nil
}

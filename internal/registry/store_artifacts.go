package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"deeplinker/internal/services"
)

// AttachArtifact records the outcome of a stage, replacing any earlier
// artifact for the same (token, stage). Storage of the replaced artifact is
// released once the new record is committed.
func (r *Registry) AttachArtifact(ctx context.Context, art Artifact) error {
	if _, err := ParseStage(string(art.Stage)); err != nil {
		return services.ValidationError("registry", "attach artifact", "%v", err)
	}
	switch art.Status {
	case StatusDone, StatusFailed, StatusNoop:
	default:
		return services.ValidationError("registry", "attach artifact", "unknown status %q", art.Status)
	}
	if art.Status == StatusDone && art.StorageRef == "" {
		return services.ValidationError("registry", "attach artifact", "done artifact requires a storage reference")
	}
	if art.UpdatedAt.IsZero() {
		art.UpdatedAt = nowUTC()
	}

	var (
		previous string
		missing  bool
	)
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		previous, missing = "", false
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM media WHERE token = ?`, art.Token).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			missing = true
			return nil
		}
		var prior sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT storage_ref FROM artifacts WHERE token = ? AND stage = ?`,
			art.Token, string(art.Stage),
		).Scan(&prior)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		previous = prior.String
		var meta any
		if len(art.Meta) > 0 {
			meta = string(art.Meta)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO artifacts (`+artifactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (token, stage) DO UPDATE SET
				storage_ref = excluded.storage_ref,
				status = excluded.status,
				error = excluded.error,
				meta = excluded.meta,
				updated_at = excluded.updated_at`,
			art.Token,
			string(art.Stage),
			nullableString(art.StorageRef),
			string(art.Status),
			nullableString(art.Error),
			meta,
			formatTime(art.UpdatedAt),
		)
		return err
	})
	if err != nil {
		return fatal("attach artifact", "upsert artifact", err)
	}
	if missing {
		return services.Wrap(services.ErrNotFound, "registry", "attach artifact", fmt.Sprintf("token %s", art.Token), nil)
	}
	if previous != "" && previous != art.StorageRef {
		r.releaseBlobs(ctx, previous)
	}
	return nil
}

// Artifacts returns every artifact recorded for token in stage order.
func (r *Registry) Artifacts(ctx context.Context, token string) ([]Artifact, error) {
	ctx = ensureContext(ctx)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE token = ?
		ORDER BY CASE stage WHEN 'preview' THEN 0 WHEN 'collage' THEN 1 ELSE 2 END`,
		token,
	)
	if err != nil {
		return nil, fatal("artifacts", "query artifacts", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		art, err := scanArtifact(rows)
		if err != nil {
			return nil, fatal("artifacts", "scan artifact", err)
		}
		out = append(out, art)
	}
	if err := rows.Err(); err != nil {
		return nil, fatal("artifacts", "iterate artifacts", err)
	}
	return out, nil
}

// Artifact returns the artifact for (token, stage) or services.ErrNotFound.
func (r *Registry) Artifact(ctx context.Context, token string, stage Stage) (Artifact, error) {
	ctx = ensureContext(ctx)
	row := r.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE token = ? AND stage = ?`,
		token, string(stage),
	)
	art, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, services.Wrap(services.ErrNotFound, "registry", "artifact", fmt.Sprintf("%s/%s", token, stage), nil)
	}
	if err != nil {
		return Artifact{}, fatal("artifact", "query artifact", err)
	}
	return art, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

package registry

import (
	"database/sql"
	"errors"
	"time"

	"deeplinker/internal/media"
)

const mediaColumns = "token, source_ref, kind, protected, source_size, title, created_at"

const artifactColumns = "token, stage, storage_ref, status, error, meta, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(scanner rowScanner) (MediaDescriptor, error) {
	var (
		token      string
		sourceRef  string
		kind       string
		protected  int64
		sourceSize sql.NullInt64
		title      sql.NullString
		createdRaw sql.NullString
	)
	if err := scanner.Scan(&token, &sourceRef, &kind, &protected, &sourceSize, &title, &createdRaw); err != nil {
		return MediaDescriptor{}, err
	}
	desc := MediaDescriptor{
		Token:      token,
		SourceRef:  sourceRef,
		Kind:       media.Kind(kind),
		Protected:  protected != 0,
		SourceSize: sourceSize.Int64,
		Title:      title.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		desc.CreatedAt = created
	}
	return desc, nil
}

func scanArtifact(scanner rowScanner) (Artifact, error) {
	var (
		token      string
		stage      string
		storageRef sql.NullString
		status     string
		errMsg     sql.NullString
		meta       sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&token, &stage, &storageRef, &status, &errMsg, &meta, &updatedRaw); err != nil {
		return Artifact{}, err
	}
	art := Artifact{
		Token:      token,
		Stage:      Stage(stage),
		StorageRef: storageRef.String,
		Status:     Status(status),
		Error:      errMsg.String,
	}
	if meta.Valid && meta.String != "" {
		art.Meta = []byte(meta.String)
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		art.UpdatedAt = updated
	}
	return art, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

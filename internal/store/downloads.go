package store

import (
	"database/sql"
	"time"

	"github.com/z-dmr/zdmr/internal/model"
)

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTimeStr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeStr(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// UpsertDownload inserts or fully replaces a Download row in one atomic
// write, per spec.md §4.1 ("every status transition ... is one atomic
// write").
func (s *Store) UpsertDownload(d *model.Download) error {
	_, err := s.db.Exec(`
		INSERT INTO downloads (
			id, batch_id, original_url, resolved_url, dest_dir, forced_proxy_url,
			content_length, etag, last_modified, supports_ranges, mirror_used,
			temp_path, final_filename, status, error_code, error_message,
			bytes_downloaded, created_at, updated_at, started_at, completed_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			batch_id=excluded.batch_id, original_url=excluded.original_url,
			resolved_url=excluded.resolved_url, dest_dir=excluded.dest_dir,
			forced_proxy_url=excluded.forced_proxy_url, content_length=excluded.content_length,
			etag=excluded.etag, last_modified=excluded.last_modified,
			supports_ranges=excluded.supports_ranges, mirror_used=excluded.mirror_used,
			temp_path=excluded.temp_path, final_filename=excluded.final_filename,
			status=excluded.status, error_code=excluded.error_code,
			error_message=excluded.error_message, bytes_downloaded=excluded.bytes_downloaded,
			updated_at=excluded.updated_at, started_at=excluded.started_at,
			completed_at=excluded.completed_at
	`,
		d.ID, d.BatchID, d.OriginalURL, d.ResolvedURL, d.DestDir, d.ForcedProxyURL,
		d.ContentLength, d.ETag, d.LastModified, string(d.SupportsRanges), d.MirrorUsed,
		d.TempPath, d.FinalFilename, string(d.Status), string(d.ErrorCode), d.ErrorMessage,
		d.BytesDownloaded, timeStr(d.CreatedAt), timeStr(d.UpdatedAt),
		nullTimeStr(d.StartedAt), nullTimeStr(d.CompletedAt),
	)
	return fatal("UpsertDownload", err)
}

// UpdateProgress persists the authoritative byte counter, used by the
// checkpoint path (spec.md §4.6 step 4: "persist bytes_downloaded ... at
// most once per 500ms or on suspension/termination").
func (s *Store) UpdateProgress(id string, bytesDownloaded int64, updatedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE downloads SET bytes_downloaded=?, updated_at=? WHERE id=?`,
		bytesDownloaded, timeStr(updatedAt), id)
	return fatal("UpdateProgress", err)
}

func (s *Store) DeleteDownload(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fatal("DeleteDownload.Begin", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM download_segments WHERE download_id=?`, id); err != nil {
		return fatal("DeleteDownload.segments", err)
	}
	if _, err := tx.Exec(`DELETE FROM downloads WHERE id=?`, id); err != nil {
		return fatal("DeleteDownload.download", err)
	}
	return fatal("DeleteDownload.Commit", tx.Commit())
}

func (s *Store) GetDownload(id string) (*model.Download, error) {
	row := s.db.QueryRow(`SELECT `+downloadCols+` FROM downloads WHERE id=?`, id)
	d, err := scanDownload(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, fatal("GetDownload", err)
}

// ListDownloads returns every Download sorted by creation descending, per
// spec.md §4.1.
func (s *Store) ListDownloads() ([]*model.Download, error) {
	rows, err := s.db.Query(`SELECT ` + downloadCols + ` FROM downloads ORDER BY created_at DESC`)
	if err != nil {
		return nil, fatal("ListDownloads", err)
	}
	defer rows.Close()

	var out []*model.Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, fatal("ListDownloads.scan", err)
		}
		out = append(out, d)
	}
	return out, fatal("ListDownloads.rows", rows.Err())
}

// ClearCompleted deletes every COMPLETED download (and its segments) in one
// transaction, per spec.md §4.1's "clear completed sweep".
func (s *Store) ClearCompleted() (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fatal("ClearCompleted.Begin", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id FROM downloads WHERE status=?`, string(model.StatusCompleted))
	if err != nil {
		return 0, fatal("ClearCompleted.select", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fatal("ClearCompleted.scan", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.Exec(`DELETE FROM download_segments WHERE download_id=?`, id); err != nil {
			return 0, fatal("ClearCompleted.segments", err)
		}
	}
	res, err := tx.Exec(`DELETE FROM downloads WHERE status=?`, string(model.StatusCompleted))
	if err != nil {
		return 0, fatal("ClearCompleted.delete", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fatal("ClearCompleted.Commit", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// NonTerminalToQueued implements spec.md's P7: on restart, every Download
// that isn't COMPLETED or PAUSED is reset to QUEUED, byte counters
// preserved, so the scheduler picks them up fresh.
func (s *Store) NonTerminalToQueued(now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE downloads SET status=?, updated_at=?
		WHERE status NOT IN (?, ?)`,
		string(model.StatusQueued), timeStr(now),
		string(model.StatusCompleted), string(model.StatusPaused),
	)
	return fatal("NonTerminalToQueued", err)
}

const downloadCols = `
	id, batch_id, original_url, resolved_url, dest_dir, forced_proxy_url,
	content_length, etag, last_modified, supports_ranges, mirror_used,
	temp_path, final_filename, status, error_code, error_message,
	bytes_downloaded, created_at, updated_at, started_at, completed_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanDownload(row scanner) (*model.Download, error) {
	var d model.Download
	var supportsRanges, status, errorCode, createdAt, updatedAt string
	var started, completed sql.NullString
	err := row.Scan(
		&d.ID, &d.BatchID, &d.OriginalURL, &d.ResolvedURL, &d.DestDir, &d.ForcedProxyURL,
		&d.ContentLength, &d.ETag, &d.LastModified, &supportsRanges, &d.MirrorUsed,
		&d.TempPath, &d.FinalFilename, &status, &errorCode, &d.ErrorMessage,
		&d.BytesDownloaded, &createdAt, &updatedAt, &started, &completed,
	)
	if err != nil {
		return nil, err
	}
	d.SupportsRanges = model.RangeSupport(supportsRanges)
	d.Status = model.Status(status)
	d.ErrorCode = model.ErrorCode(errorCode)
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	d.StartedAt = parseNullTime(started)
	d.CompletedAt = parseNullTime(completed)
	return &d, nil
}

package store

import (
	"database/sql"
	"fmt"

	"github.com/z-dmr/zdmr/internal/model"
)

// ReplaceSegmentPlan atomically wipes and rewrites every segment row for a
// Download, used when the fetcher (re)plans segments — either on first
// probe or after a REMOTE_CHANGED retry clears them. Spec.md §4.1 calls out
// "transactional multi-row writes for segment plans" explicitly.
func (s *Store) ReplaceSegmentPlan(downloadID string, segments []model.Segment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fatal("ReplaceSegmentPlan.Begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM download_segments WHERE download_id=?`, downloadID); err != nil {
		return fatal("ReplaceSegmentPlan.delete", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO download_segments
		(download_id, ordinal, start, end_exclusive, bytes_written, done)
		VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return fatal("ReplaceSegmentPlan.prepare", err)
	}
	defer stmt.Close()
	for _, seg := range segments {
		done := 0
		if seg.Done {
			done = 1
		}
		if _, err := stmt.Exec(downloadID, seg.Ordinal, seg.Start, seg.EndExclusive, seg.BytesWritten, done); err != nil {
			return fatal("ReplaceSegmentPlan.insert", err)
		}
	}
	return fatal("ReplaceSegmentPlan.Commit", tx.Commit())
}

// CheckpointSegments persists the current byte offsets for a batch of
// segments in one transaction, the periodic checkpoint spec.md §4.6 step 4
// calls for.
func (s *Store) CheckpointSegments(downloadID string, segments []model.Segment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fatal("CheckpointSegments.Begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE download_segments
		SET bytes_written=?, done=? WHERE download_id=? AND ordinal=?`)
	if err != nil {
		return fatal("CheckpointSegments.prepare", err)
	}
	defer stmt.Close()
	for _, seg := range segments {
		done := 0
		if seg.Done {
			done = 1
		}
		if _, err := stmt.Exec(seg.BytesWritten, done, downloadID, seg.Ordinal); err != nil {
			return fatal("CheckpointSegments.update", err)
		}
	}
	return fatal("CheckpointSegments.Commit", tx.Commit())
}

func (s *Store) ListSegments(downloadID string) ([]model.Segment, error) {
	rows, err := s.db.Query(`SELECT download_id, ordinal, start, end_exclusive, bytes_written, done
		FROM download_segments WHERE download_id=? ORDER BY ordinal ASC`, downloadID)
	if err != nil {
		return nil, fatal("ListSegments", err)
	}
	defer rows.Close()

	var out []model.Segment
	for rows.Next() {
		var seg model.Segment
		var done int
		if err := rows.Scan(&seg.DownloadID, &seg.Ordinal, &seg.Start, &seg.EndExclusive, &seg.BytesWritten, &done); err != nil {
			return nil, fatal("ListSegments.scan", err)
		}
		seg.Done = done != 0
		out = append(out, seg)
	}
	return out, fatal("ListSegments.rows", rows.Err())
}

func (s *Store) DeleteSegments(downloadID string) error {
	_, err := s.db.Exec(`DELETE FROM download_segments WHERE download_id=?`, downloadID)
	return fatal("DeleteSegments", err)
}

func ensureFound(err error, what string) error {
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s: not found", what)
	}
	return err
}

package store

import (
	"database/sql"

	"github.com/z-dmr/zdmr/internal/model"
)

func (s *Store) InsertBatch(b *model.Batch) error {
	forcedProxy := 0
	if b.ForcedProxy {
		forcedProxy = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO batches (id, name, dest_dir, forced_proxy, on_collision, created_at)
		VALUES (?,?,?,?,?,?)`,
		b.ID, b.Name, b.DestDir, forcedProxy, b.OnCollision, timeStr(b.CreatedAt))
	return fatal("InsertBatch", err)
}

func (s *Store) GetBatch(id string) (*model.Batch, error) {
	row := s.db.QueryRow(`SELECT id, name, dest_dir, forced_proxy, on_collision, created_at
		FROM batches WHERE id=?`, id)
	var b model.Batch
	var forcedProxy int
	var createdAt string
	err := row.Scan(&b.ID, &b.Name, &b.DestDir, &forcedProxy, &b.OnCollision, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fatal("GetBatch", err)
	}
	b.ForcedProxy = forcedProxy != 0
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}

func (s *Store) DeleteBatch(id string) error {
	_, err := s.db.Exec(`DELETE FROM batches WHERE id=?`, id)
	return fatal("DeleteBatch", err)
}

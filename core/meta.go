package core

import (
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	b "github.com/orca-zhang/borm"
	"github.com/orca-zhang/idgen"
)

const POOL_TBL = "chunk"

// ChunkRecord is one chunk object held by the pool.
type ChunkRecord struct {
	ID         int64  `borm:"id" json:"id"`
	Image      string `borm:"image" json:"image"`
	Idx        int64  `borm:"idx" json:"idx"`
	Size       int64  `borm:"size" json:"size"`               // raw chunk size
	Checksum   int64  `borm:"checksum" json:"checksum"`       // xxh3 of the raw chunk
	UploadedAt int64  `borm:"uploaded_at" json:"uploaded_at"` // unix seconds
}

// PoolIndex records which chunks of which image the pool holds.
type PoolIndex struct {
	db *sql.DB
	ig *idgen.IDGen
}

func OpenPoolIndex(dir string) (*PoolIndex, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, NewIOError("create", dir, err)
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, "pool.db")+"?_journal=WAL")
	if err != nil {
		return nil, err
	}

	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS chunk (id BIGINT PRIMARY KEY NOT NULL,
		image TEXT NOT NULL,
		idx BIGINT NOT NULL,
		size BIGINT NOT NULL,
		checksum BIGINT NOT NULL,
		uploaded_at BIGINT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	if _, err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uk_image_idx ON chunk (image, idx)`); err != nil {
		db.Close()
		return nil, err
	}
	return &PoolIndex{db: db, ig: idgen.NewIDGen(nil, 0)}, nil
}

func (pi *PoolIndex) Close() error {
	return pi.db.Close()
}

// Record upserts the entry for (image, idx).
func (pi *PoolIndex) Record(c Ctx, image string, idx uint64, size int64, checksum uint64) error {
	id, err := pi.ig.New()
	if err != nil {
		return err
	}
	rec := ChunkRecord{
		ID:         id,
		Image:      image,
		Idx:        int64(idx),
		Size:       size,
		Checksum:   int64(checksum),
		UploadedAt: time.Now().Unix(),
	}
	_, err = b.Table(pi.db, POOL_TBL, c).ReplaceInto(&rec)
	return err
}

// List returns the records of one image ordered by chunk index.
func (pi *PoolIndex) List(c Ctx, image string) ([]*ChunkRecord, error) {
	var recs []*ChunkRecord
	if _, err := b.Table(pi.db, POOL_TBL, c).Select(&recs, b.Where(b.Eq("image", image))); err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Idx < recs[j].Idx })
	return recs, nil
}

package playbook

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/acelabs/ace-go/pkg/errors"
	"github.com/acelabs/ace-go/pkg/logging"
)

// SQLiteStore implements Store on a SQLite database. The whole playbook
// state is rewritten inside one transaction per commit, with the version
// row acting as the compare-and-swap guard.
type SQLiteStore struct {
	db   *sql.DB
	opts StoreOptions
}

// NewSQLiteStore opens (or creates) a playbook database at the given
// path.
func NewSQLiteStore(path string, opts StoreOptions) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to open SQLite database"),
			errors.Fields{"path": path})
	}

	s := &SQLiteStore{db: db, opts: opts}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	// WAL mode for better read concurrency
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to enable WAL mode")
	}

	schema := `
    CREATE TABLE IF NOT EXISTS playbook_meta (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        version INTEGER NOT NULL
    );
    CREATE TABLE IF NOT EXISTS playbook_section (
        name TEXT PRIMARY KEY,
        display_name TEXT NOT NULL,
        description TEXT NOT NULL DEFAULT '',
        ordering INTEGER NOT NULL
    );
    CREATE TABLE IF NOT EXISTS playbook_bullet (
        id TEXT PRIMARY KEY,
        section TEXT NOT NULL,
        content TEXT NOT NULL,
        helpful_count INTEGER NOT NULL DEFAULT 0,
        harmful_count INTEGER NOT NULL DEFAULT 0,
        metadata TEXT NOT NULL DEFAULT '{}',
        position INTEGER NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_playbook_bullet_section
        ON playbook_bullet(section, position);
    CREATE TABLE IF NOT EXISTS playbook_revision (
        seq INTEGER PRIMARY KEY,
        body TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS playbook_tag_key (
        key TEXT PRIMARY KEY,
        seq INTEGER NOT NULL
    );
    CREATE TABLE IF NOT EXISTS playbook_removed (
        bullet_id TEXT PRIMARY KEY,
        seq INTEGER NOT NULL
    );
    CREATE TABLE IF NOT EXISTS playbook_touched (
        bullet_id TEXT PRIMARY KEY,
        seq INTEGER NOT NULL
    );
    INSERT OR IGNORE INTO playbook_meta (id, version) VALUES (1, 0);
    `
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to initialize playbook schema")
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ReadSection(ctx context.Context, name string) ([]Bullet, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM playbook_section WHERE name = ?", name).Scan(&exists)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to query section")
	}
	if exists == 0 {
		return nil, errors.WithFields(
			errors.New(errors.ResourceNotFound, "section not found"),
			errors.Fields{"section": name})
	}

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, section, content, helpful_count, harmful_count, metadata, created_at, updated_at
        FROM playbook_bullet WHERE section = ? ORDER BY position ASC`, name)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to query bullets")
	}
	defer rows.Close()

	return scanBullets(rows)
}

func (s *SQLiteStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to begin read transaction")
	}
	defer rollbackTx(tx)

	snap, err := loadSnapshot(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to commit read transaction")
	}
	return snap, nil
}

func (s *SQLiteStore) Apply(ctx context.Context, ops []DeltaOp, opts ApplyOptions) (*Revision, error) {
	if err := errors.CheckContext(ctx, "apply"); err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, errors.New(errors.InvalidInput, "empty delta batch")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to begin transaction")
	}
	defer rollbackTx(tx)

	snap, err := loadSnapshot(ctx, tx)
	if err != nil {
		return nil, err
	}

	if opts.BaseVersion > 0 && snap.Version > opts.BaseVersion {
		if err := checkTouched(ctx, tx, ops, opts.BaseVersion); err != nil {
			return nil, err
		}
	}

	planOpts, err := s.loadPlanOptions(ctx, tx)
	if err != nil {
		return nil, err
	}

	res, err := Plan(snap, ops, planOpts)
	if err != nil {
		return nil, err
	}

	rev := res.Rev
	if !rev.HasChanges() {
		rev.Seq = snap.Version
		return &rev, nil
	}

	rev.Seq = snap.Version + 1
	rev.AppliedAt = time.Now().UTC()
	rev.AppliedBy = opts.AppliedBy
	rev.Description = opts.Description
	rev.Metadata = opts.Metadata

	if err := persist(ctx, tx, snap.Version, res, rev, true); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to commit revision")
	}
	return &rev, nil
}

func (s *SQLiteStore) Rollback(ctx context.Context, seq int64, force bool) (*Revision, error) {
	if err := errors.CheckContext(ctx, "rollback"); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to begin transaction")
	}
	defer rollbackTx(tx)

	journal, err := loadRevisions(ctx, tx)
	if err != nil {
		return nil, err
	}

	targetIdx := -1
	for i := range journal {
		if journal[i].Seq == seq {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return nil, errors.WithFields(
			errors.New(errors.RevisionNotFound, "revision not found"),
			errors.Fields{"seq": seq})
	}

	target := journal[targetIdx]
	undoing := []Revision{target}
	touched := target.Touched()
	conflicted := false
	for i := targetIdx + 1; i < len(journal); i++ {
		for id := range journal[i].Touched() {
			if touched[id] {
				conflicted = true
			}
		}
	}
	if conflicted && !force {
		return nil, errors.WithFields(
			errors.New(errors.RollbackConflict, "later revisions touch the same bullets"),
			errors.Fields{"seq": seq})
	}
	if force {
		undoing = journal[targetIdx:]
	}

	var inverseOps []DeltaOp
	for i := len(undoing) - 1; i >= 0; i-- {
		inv := undoing[i].Inverses
		for j := len(inv) - 1; j >= 0; j-- {
			inverseOps = append(inverseOps, inv[j])
		}
	}
	if len(inverseOps) == 0 {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "revision has nothing to undo"),
			errors.Fields{"seq": seq})
	}

	snap, err := loadSnapshot(ctx, tx)
	if err != nil {
		return nil, err
	}

	planOpts, err := s.loadPlanOptions(ctx, tx)
	if err != nil {
		return nil, err
	}
	planOpts.AppliedTagKeys = nil
	planOpts.AutoCreateSections = true

	res, err := Plan(snap, inverseOps, planOpts)
	if err != nil {
		return nil, errors.Wrap(err, errors.RollbackConflict, "inverse batch no longer applies")
	}

	rev := res.Rev
	rev.Seq = snap.Version + 1
	rev.AppliedAt = time.Now().UTC()
	rev.AppliedBy = "rollback"
	rev.Description = fmt.Sprintf("rollback of revision %d", seq)
	rev.Metadata = map[string]string{"rollback_of": fmt.Sprintf("%d", seq)}

	if err := persist(ctx, tx, snap.Version, res, rev, false); err != nil {
		return nil, err
	}
	for _, undone := range undoing {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM playbook_tag_key WHERE seq = ?", undone.Seq); err != nil {
			return nil, errors.Wrap(err, errors.Unknown, "failed to release tag keys")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to commit rollback")
	}
	return &rev, nil
}

func (s *SQLiteStore) Revisions(ctx context.Context) ([]Revision, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to begin read transaction")
	}
	defer rollbackTx(tx)

	journal, err := loadRevisions(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to commit read transaction")
	}
	return journal, nil
}

func (s *SQLiteStore) loadPlanOptions(ctx context.Context, tx *sql.Tx) (PlanOptions, error) {
	opts := PlanOptions{
		AutoCreateSections:  s.opts.AutoCreateSections,
		SimilarityThreshold: s.opts.SimilarityThreshold,
		HarmfulThreshold:    s.opts.HarmfulThreshold,
		AppliedTagKeys:      make(map[string]bool),
		RemovedIDs:          make(map[string]bool),
		NewID:               func() string { return ulid.Make().String() },
		Now:                 time.Now().UTC(),
	}

	rows, err := tx.QueryContext(ctx, "SELECT key FROM playbook_tag_key")
	if err != nil {
		return opts, errors.Wrap(err, errors.Unknown, "failed to load tag keys")
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return opts, errors.Wrap(err, errors.Unknown, "failed to scan tag key")
		}
		opts.AppliedTagKeys[key] = true
	}
	if err := rows.Err(); err != nil {
		return opts, errors.Wrap(err, errors.Unknown, "failed to iterate tag keys")
	}

	removed, err := tx.QueryContext(ctx, "SELECT bullet_id FROM playbook_removed")
	if err != nil {
		return opts, errors.Wrap(err, errors.Unknown, "failed to load removed ids")
	}
	defer removed.Close()
	for removed.Next() {
		var id string
		if err := removed.Scan(&id); err != nil {
			return opts, errors.Wrap(err, errors.Unknown, "failed to scan removed id")
		}
		opts.RemovedIDs[id] = true
	}
	if err := removed.Err(); err != nil {
		return opts, errors.Wrap(err, errors.Unknown, "failed to iterate removed ids")
	}

	return opts, nil
}

func loadSnapshot(ctx context.Context, tx *sql.Tx) (*Snapshot, error) {
	snap := &Snapshot{Bullets: make(map[string]Bullet)}

	if err := tx.QueryRowContext(ctx,
		"SELECT version FROM playbook_meta WHERE id = 1").Scan(&snap.Version); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to read playbook version")
	}

	secRows, err := tx.QueryContext(ctx, `
        SELECT name, display_name, description, ordering
        FROM playbook_section ORDER BY ordering ASC, name ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to query sections")
	}
	defer secRows.Close()
	for secRows.Next() {
		var sec Section
		if err := secRows.Scan(&sec.Name, &sec.DisplayName, &sec.Description, &sec.Ordering); err != nil {
			return nil, errors.Wrap(err, errors.Unknown, "failed to scan section")
		}
		snap.Sections = append(snap.Sections, sec)
	}
	if err := secRows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to iterate sections")
	}

	rows, err := tx.QueryContext(ctx, `
        SELECT id, section, content, helpful_count, harmful_count, metadata, created_at, updated_at
        FROM playbook_bullet ORDER BY section ASC, position ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to query bullets")
	}
	defer rows.Close()

	bullets, err := scanBullets(rows)
	if err != nil {
		return nil, err
	}
	for _, b := range bullets {
		snap.Bullets[b.ID] = b
		if sec := snap.SectionByName(b.Section); sec != nil {
			sec.BulletIDs = append(sec.BulletIDs, b.ID)
		}
	}
	return snap, nil
}

func checkTouched(ctx context.Context, tx *sql.Tx, ops []DeltaOp, baseVersion int64) error {
	for _, op := range ops {
		if op.BulletID == "" {
			continue
		}
		var touched int64
		err := tx.QueryRowContext(ctx,
			"SELECT seq FROM playbook_touched WHERE bullet_id = ?", op.BulletID).Scan(&touched)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return errors.Wrap(err, errors.Unknown, "failed to query touched bullets")
		}
		if touched > baseVersion {
			return errors.WithFields(
				errors.New(errors.ConflictDetected, "delta target touched by a later revision"),
				errors.Fields{
					"bullet_id":    op.BulletID,
					"base_version": baseVersion,
					"touched_at":   touched,
				})
		}
	}
	return nil
}

// persist rewrites the playbook tables from the plan result and appends
// the revision row, guarded by a version compare-and-swap.
func persist(ctx context.Context, tx *sql.Tx, baseVersion int64, res *PlanResult, rev Revision, recordTags bool) error {
	cas, err := tx.ExecContext(ctx,
		"UPDATE playbook_meta SET version = ? WHERE id = 1 AND version = ?", rev.Seq, baseVersion)
	if err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to bump playbook version")
	}
	if n, _ := cas.RowsAffected(); n != 1 {
		return errors.New(errors.ConflictDetected, "playbook version changed during commit")
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM playbook_bullet"); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to clear bullets")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM playbook_section"); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to clear sections")
	}

	for _, sec := range res.Sections {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO playbook_section (name, display_name, description, ordering)
            VALUES (?, ?, ?, ?)`,
			sec.Name, sec.DisplayName, sec.Description, sec.Ordering); err != nil {
			return errors.Wrap(err, errors.Unknown, "failed to insert section")
		}
		for pos, id := range sec.BulletIDs {
			b, ok := res.Bullets[id]
			if !ok {
				continue
			}
			meta, err := json.Marshal(b.Metadata)
			if err != nil {
				return errors.Wrap(err, errors.InvalidInput, "failed to marshal bullet metadata")
			}
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO playbook_bullet
                (id, section, content, helpful_count, harmful_count, metadata, position, created_at, updated_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				b.ID, b.Section, b.Content, b.HelpfulCount, b.HarmfulCount,
				string(meta), pos, b.CreatedAt, b.UpdatedAt); err != nil {
				return errors.Wrap(err, errors.Unknown, "failed to insert bullet")
			}
		}
	}

	body, err := json.Marshal(rev)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "failed to marshal revision")
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO playbook_revision (seq, body) VALUES (?, ?)", rev.Seq, string(body)); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to insert revision")
	}

	for id := range rev.Touched() {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO playbook_touched (bullet_id, seq) VALUES (?, ?)
            ON CONFLICT(bullet_id) DO UPDATE SET seq = excluded.seq`, id, rev.Seq); err != nil {
			return errors.Wrap(err, errors.Unknown, "failed to record touched bullet")
		}
	}
	for _, id := range rev.Removed {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO playbook_removed (bullet_id, seq) VALUES (?, ?)
            ON CONFLICT(bullet_id) DO UPDATE SET seq = excluded.seq`, id, rev.Seq); err != nil {
			return errors.Wrap(err, errors.Unknown, "failed to record removed bullet")
		}
	}
	for _, id := range rev.Added {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM playbook_removed WHERE bullet_id = ?", id); err != nil {
			return errors.Wrap(err, errors.Unknown, "failed to clear removed marker")
		}
	}
	if recordTags {
		for _, key := range res.TagKeys {
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO playbook_tag_key (key, seq) VALUES (?, ?)
                ON CONFLICT(key) DO UPDATE SET seq = excluded.seq`, key, rev.Seq); err != nil {
				return errors.Wrap(err, errors.Unknown, "failed to record tag key")
			}
		}
	}
	return nil
}

func loadRevisions(ctx context.Context, tx *sql.Tx) ([]Revision, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT body FROM playbook_revision ORDER BY seq ASC")
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to query revisions")
	}
	defer rows.Close()

	var journal []Revision
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, errors.Wrap(err, errors.Unknown, "failed to scan revision")
		}
		var rev Revision
		if err := json.Unmarshal([]byte(body), &rev); err != nil {
			return nil, errors.Wrap(err, errors.InvalidResponse, "failed to decode revision")
		}
		journal = append(journal, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to iterate revisions")
	}
	return journal, nil
}

func scanBullets(rows *sql.Rows) ([]Bullet, error) {
	var bullets []Bullet
	for rows.Next() {
		var b Bullet
		var meta string
		if err := rows.Scan(&b.ID, &b.Section, &b.Content, &b.HelpfulCount,
			&b.HarmfulCount, &meta, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.Unknown, "failed to scan bullet")
		}
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &b.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.InvalidResponse, "failed to decode bullet metadata")
			}
		}
		bullets = append(bullets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to iterate bullets")
	}
	return bullets, nil
}

func rollbackTx(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logging.GetLogger().Error(context.Background(), "failed to rollback transaction: %v", err)
	}
}

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

// LevelRepository persists custom tier ladders per bimester.
type LevelRepository struct {
	db *sqlx.DB
}

// NewLevelRepository constructs a LevelRepository.
func NewLevelRepository(db *sqlx.DB) *LevelRepository {
	return &LevelRepository{db: db}
}

type levelRuleRow struct {
	Bimester  int           `db:"bimester"`
	Position  int           `db:"position"`
	MinPoints int           `db:"min_points"`
	MaxPoints sql.NullInt64 `db:"max_points"`
	Title     string        `db:"title"`
	Color     string        `db:"color"`
}

// ListAll returns every custom ladder keyed by bimester.
func (r *LevelRepository) ListAll(ctx context.Context) (map[int]models.Ladder, error) {
	return loadLadders(ctx, r.db)
}

// Replace swaps the whole ladder of bimester for rules.
func (r *LevelRepository) Replace(ctx context.Context, bimester int, rules models.Ladder) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace ladder: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = writeLadder(ctx, tx, bimester, rules); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete drops the custom ladder of bimester so the default applies again.
func (r *LevelRepository) Delete(ctx context.Context, bimester int) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM level_rules WHERE bimester = $1`, bimester); err != nil {
		return fmt.Errorf("delete ladder %d: %w", bimester, err)
	}
	return nil
}

func writeLadder(ctx context.Context, tx *sqlx.Tx, bimester int, rules models.Ladder) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM level_rules WHERE bimester = $1`, bimester); err != nil {
		return fmt.Errorf("clear ladder %d: %w", bimester, err)
	}
	const query = `INSERT INTO level_rules (bimester, position, min_points, max_points, title, color) VALUES ($1, $2, $3, $4, $5, $6)`
	for i, rule := range rules {
		var upper sql.NullInt64
		if rule.Max != nil {
			upper = sql.NullInt64{Int64: int64(*rule.Max), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, query, bimester, i, rule.Min, upper, rule.Title, rule.Color); err != nil {
			return fmt.Errorf("insert ladder %d tier %d: %w", bimester, i, err)
		}
	}
	return nil
}

func loadLadders(ctx context.Context, q sqlx.QueryerContext) (map[int]models.Ladder, error) {
	var rows []levelRuleRow
	if err := sqlx.SelectContext(ctx, q, &rows, `SELECT bimester, position, min_points, max_points, title, color FROM level_rules ORDER BY bimester ASC, position ASC`); err != nil {
		return nil, fmt.Errorf("list level rules: %w", err)
	}
	out := make(map[int]models.Ladder)
	for _, row := range rows {
		rule := models.LevelRule{Min: row.MinPoints, Title: row.Title, Color: row.Color}
		if row.MaxPoints.Valid {
			rule.Max = models.IntPtr(int(row.MaxPoints.Int64))
		}
		out[row.Bimester] = append(out[row.Bimester], rule)
	}
	return out, nil
}

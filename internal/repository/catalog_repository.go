package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

// CatalogRepository persists task, badge and penalty definitions.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs a CatalogRepository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

type taskRow struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	Category  string    `db:"category"`
	Points    int       `db:"points"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type badgeDefinitionRow struct {
	ID                string         `db:"id"`
	Name              string         `db:"name"`
	Description       string         `db:"description"`
	RewardValue       int            `db:"reward_value"`
	Bimesters         pq.Int64Array  `db:"bimesters"`
	CriteriaType      sql.NullString `db:"criteria_type"`
	CriteriaThreshold sql.NullInt64  `db:"criteria_threshold"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

type penaltyRow struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	Points    int       `db:"points"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func badgeToRow(b models.BadgeDefinition) badgeDefinitionRow {
	row := badgeDefinitionRow{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		RewardValue: b.RewardValue,
		Bimesters:   pq.Int64Array{},
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	for _, v := range b.Bimesters {
		row.Bimesters = append(row.Bimesters, int64(v))
	}
	if b.AutoUnlockCriteria != nil {
		row.CriteriaType = sql.NullString{String: string(b.AutoUnlockCriteria.Type), Valid: true}
		row.CriteriaThreshold = sql.NullInt64{Int64: int64(b.AutoUnlockCriteria.Threshold), Valid: true}
	}
	return row
}

func (row badgeDefinitionRow) model() models.BadgeDefinition {
	b := models.BadgeDefinition{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		RewardValue: row.RewardValue,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	for _, v := range row.Bimesters {
		b.Bimesters = append(b.Bimesters, int(v))
	}
	if row.CriteriaType.Valid {
		b.AutoUnlockCriteria = &models.UnlockCriteria{
			Type:      models.UnlockCriteriaType(row.CriteriaType.String),
			Threshold: int(row.CriteriaThreshold.Int64),
		}
	}
	return b
}

const (
	upsertTaskQuery = `INSERT INTO catalog_tasks (id, title, category, points, created_at, updated_at)
VALUES (:id, :title, :category, :points, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, category = EXCLUDED.category, points = EXCLUDED.points, updated_at = EXCLUDED.updated_at`
	upsertBadgeQuery = `INSERT INTO catalog_badges (id, name, description, reward_value, bimesters, criteria_type, criteria_threshold, created_at, updated_at)
VALUES (:id, :name, :description, :reward_value, :bimesters, :criteria_type, :criteria_threshold, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description, reward_value = EXCLUDED.reward_value,
bimesters = EXCLUDED.bimesters, criteria_type = EXCLUDED.criteria_type, criteria_threshold = EXCLUDED.criteria_threshold, updated_at = EXCLUDED.updated_at`
	upsertPenaltyQuery = `INSERT INTO catalog_penalties (id, title, points, created_at, updated_at)
VALUES (:id, :title, :points, :created_at, :updated_at)
ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, points = EXCLUDED.points, updated_at = EXCLUDED.updated_at`
)

// Save inserts or updates a catalog item of any kind.
func (r *CatalogRepository) Save(ctx context.Context, item models.CatalogItem) error {
	return saveCatalogItem(ctx, r.db, item)
}

func saveCatalogItem(ctx context.Context, e sqlx.ExtContext, item models.CatalogItem) error {
	var (
		query string
		arg   interface{}
	)
	switch v := item.(type) {
	case models.TaskDefinition:
		query = upsertTaskQuery
		arg = taskRow{ID: v.ID, Title: v.Title, Category: string(v.Category), Points: v.Points, CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt}
	case models.BadgeDefinition:
		query = upsertBadgeQuery
		arg = badgeToRow(v)
	case models.PenaltyDefinition:
		query = upsertPenaltyQuery
		arg = penaltyRow{ID: v.ID, Title: v.Title, Points: v.Points, CreatedAt: v.CreatedAt, UpdatedAt: v.UpdatedAt}
	default:
		return fmt.Errorf("unsupported catalog item %T", item)
	}
	if _, err := sqlx.NamedExecContext(ctx, e, query, arg); err != nil {
		return fmt.Errorf("save catalog %s %s: %w", item.Kind(), item.CatalogID(), err)
	}
	return nil
}

// Delete removes a catalog item by kind and id.
func (r *CatalogRepository) Delete(ctx context.Context, kind models.CatalogKind, id string) error {
	table, err := catalogTable(kind)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", table), id); err != nil {
		return fmt.Errorf("delete catalog %s %s: %w", kind, id, err)
	}
	return nil
}

// Load returns the whole catalog.
func (r *CatalogRepository) Load(ctx context.Context) (models.Catalog, error) {
	return loadCatalog(ctx, r.db)
}

func catalogTable(kind models.CatalogKind) (string, error) {
	switch kind {
	case models.CatalogTask:
		return "catalog_tasks", nil
	case models.CatalogBadge:
		return "catalog_badges", nil
	case models.CatalogPenalty:
		return "catalog_penalties", nil
	default:
		return "", fmt.Errorf("unknown catalog kind %q", kind)
	}
}

func loadCatalog(ctx context.Context, q sqlx.QueryerContext) (models.Catalog, error) {
	catalog := models.Catalog{
		Tasks:     []models.TaskDefinition{},
		Badges:    []models.BadgeDefinition{},
		Penalties: []models.PenaltyDefinition{},
	}

	var tasks []taskRow
	if err := sqlx.SelectContext(ctx, q, &tasks, `SELECT id, title, category, points, created_at, updated_at FROM catalog_tasks ORDER BY title ASC, id ASC`); err != nil {
		return catalog, fmt.Errorf("list catalog tasks: %w", err)
	}
	for _, t := range tasks {
		catalog.Tasks = append(catalog.Tasks, models.TaskDefinition{ID: t.ID, Title: t.Title, Category: models.TaskCategory(t.Category), Points: t.Points, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt})
	}

	var badges []badgeDefinitionRow
	if err := sqlx.SelectContext(ctx, q, &badges, `SELECT id, name, description, reward_value, bimesters, criteria_type, criteria_threshold, created_at, updated_at FROM catalog_badges ORDER BY name ASC, id ASC`); err != nil {
		return catalog, fmt.Errorf("list catalog badges: %w", err)
	}
	for _, b := range badges {
		catalog.Badges = append(catalog.Badges, b.model())
	}

	var penalties []penaltyRow
	if err := sqlx.SelectContext(ctx, q, &penalties, `SELECT id, title, points, created_at, updated_at FROM catalog_penalties ORDER BY title ASC, id ASC`); err != nil {
		return catalog, fmt.Errorf("list catalog penalties: %w", err)
	}
	for _, p := range penalties {
		catalog.Penalties = append(catalog.Penalties, models.PenaltyDefinition{ID: p.ID, Title: p.Title, Points: p.Points, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt})
	}
	return catalog, nil
}

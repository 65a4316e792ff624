package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/ledger"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
	"github.com/noah-isme/lxc-ledger-api/pkg/storage"
)

type stateWriter interface {
	ReplaceAll(ctx context.Context, state models.State) error
}

type userDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

type backupStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	List(dir string) ([]storage.FileInfo, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type catalogSource interface {
	Catalog() models.Catalog
}

type ladderSource interface {
	Custom() map[int]models.Ladder
}

// SnapshotConfig tunes backups.
type SnapshotConfig struct {
	APIPrefix string
	Retention time.Duration
}

// ImportReport summarises a snapshot import.
type ImportReport struct {
	Schools              int            `json:"schools"`
	Classes              int            `json:"classes"`
	Students             int            `json:"students"`
	Transactions         int            `json:"transactions"`
	Drifts               []ledger.Drift `json:"drifts"`
	Orphans              int            `json:"orphans"`
	ReassignedOwners     int            `json:"reassigned_owners"`
	DroppedCollaborators int            `json:"dropped_collaborators"`
	Backup               string         `json:"backup,omitempty"`
}

// BackupResult describes a stored snapshot and its download link.
type BackupResult struct {
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SnapshotService exports and imports the whole data graph and keeps timestamped
// backups on disk.
type SnapshotService struct {
	store     *ledger.MemoryStore
	catalog   catalogSource
	levels    ladderSource
	repo      stateWriter
	users     userDirectory
	sync      pendingCounter
	rankings  *RankingCache
	storage   backupStorage
	signer    *storage.SignedURLSigner
	consumers []StateConsumer
	logger    *zap.Logger
	cfg       SnapshotConfig
	now       func() time.Time
}

// SnapshotServiceConfig groups SnapshotService collaborators.
type SnapshotServiceConfig struct {
	Store     *ledger.MemoryStore
	Catalog   catalogSource
	Levels    ladderSource
	Repo      stateWriter
	Users     userDirectory
	Sync      pendingCounter
	Rankings  *RankingCache
	Storage   backupStorage
	Signer    *storage.SignedURLSigner
	Consumers []StateConsumer
	Logger    *zap.Logger
	Config    SnapshotConfig
}

// NewSnapshotService constructs a SnapshotService.
func NewSnapshotService(cfg SnapshotServiceConfig) *SnapshotService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Config.Retention <= 0 {
		cfg.Config.Retention = 30 * 24 * time.Hour
	}
	return &SnapshotService{
		store:     cfg.Store,
		catalog:   cfg.Catalog,
		levels:    cfg.Levels,
		repo:      cfg.Repo,
		users:     cfg.Users,
		sync:      cfg.Sync,
		rankings:  cfg.Rankings,
		storage:   cfg.Storage,
		signer:    cfg.Signer,
		consumers: cfg.Consumers,
		logger:    cfg.Logger,
		cfg:       cfg.Config,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Export builds a snapshot of the current in-memory view.
func (s *SnapshotService) Export(ctx context.Context) models.Snapshot {
	schools, classes, students, txs := s.store.All()

	byClass := make(map[string][]models.Student)
	for _, st := range students {
		byClass[st.ClassID] = append(byClass[st.ClassID], st)
	}
	bySchool := make(map[string][]models.SnapshotClass)
	teacherIDs := make(map[string]struct{})
	for _, c := range classes {
		members := byClass[c.ID]
		if members == nil {
			members = []models.Student{}
		}
		bySchool[c.SchoolID] = append(bySchool[c.SchoolID], models.SnapshotClass{Class: c, Students: members})
		teacherIDs[c.OwnerID] = struct{}{}
		for _, id := range c.Collaborators {
			teacherIDs[id] = struct{}{}
		}
	}

	snap := models.Snapshot{
		Version:      models.SnapshotVersion,
		ExportedAt:   s.now(),
		Schools:      make([]models.SnapshotSchool, 0, len(schools)),
		Transactions: txs,
		Catalog:      s.catalog.Catalog(),
		LevelRules:   s.levels.Custom(),
	}
	for _, sc := range schools {
		nested := bySchool[sc.ID]
		if nested == nil {
			nested = []models.SnapshotClass{}
		}
		snap.Schools = append(snap.Schools, models.SnapshotSchool{School: sc, Classes: nested})
		teacherIDs[sc.OwnerID] = struct{}{}
	}
	for id := range teacherIDs {
		if id == "" || s.users == nil {
			continue
		}
		user, err := s.users.FindByID(ctx, id)
		if err != nil {
			continue
		}
		snap.Teachers = append(snap.Teachers, models.SnapshotTeacher{ID: user.ID, FullName: user.FullName})
	}
	return snap
}

// Import replaces every school, class, student, transaction, catalog item and custom
// ladder with the snapshot content. Balances and badge sets are re-derived from the
// transactions and differences from the snapshot's cached values are reported.
// A backup of the current state is written first.
func (s *SnapshotService) Import(ctx context.Context, actor *models.JWTClaims, snap models.Snapshot) (*ImportReport, error) {
	if snap.Version != models.SnapshotVersion {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported snapshot version %d", snap.Version))
	}
	if s.sync != nil && s.sync.Pending() > 0 {
		return nil, appErrors.Clone(appErrors.ErrSyncPending, "ledger sync in progress, retry shortly")
	}

	schools, classes, students := snap.Flatten()
	if err := checkSnapshotGraph(schools, classes, students, snap.Transactions); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	for b, ladder := range snap.LevelRules {
		if !models.ValidBimester(b) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("level rules for unknown bimester %d", b))
		}
		if err := ledger.ValidateLadder(ladder); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("bimester %d: %v", b, err))
		}
	}

	report := &ImportReport{}
	if err := s.reassignOwners(ctx, actor, schools, classes, report); err != nil {
		return nil, err
	}

	report.Drifts = ledger.Verify(students, snap.Transactions)
	rebuilt, orphans := ledger.Rebuild(students, snap.Transactions)
	report.Orphans = len(orphans)
	live := snap.Transactions
	if len(orphans) > 0 {
		live = make([]models.Transaction, 0, len(snap.Transactions)-len(orphans))
		known := make(map[string]struct{}, len(rebuilt))
		for _, st := range rebuilt {
			known[st.ID] = struct{}{}
		}
		for _, t := range snap.Transactions {
			if _, ok := known[t.StudentID]; ok {
				live = append(live, t)
			}
		}
	}

	state := models.State{
		Schools:      schools,
		Classes:      classes,
		Students:     rebuilt,
		Transactions: live,
		Catalog:      clampCatalog(snap.Catalog),
		LevelRules:   snap.LevelRules,
	}

	if backup, err := s.Backup(ctx); err != nil {
		s.logger.Warn("pre-import backup failed", zap.Error(err))
	} else {
		report.Backup = backup.Name
	}

	if err := s.repo.ReplaceAll(ctx, state); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistenceFailure.Code, appErrors.ErrPersistenceFailure.Status, "failed to store snapshot")
	}
	for _, c := range s.consumers {
		c.Restore(state)
	}
	s.rankings.InvalidateAll(ctx)

	report.Schools, report.Classes = len(schools), len(classes)
	report.Students, report.Transactions = len(rebuilt), len(live)
	s.logger.Info("snapshot imported",
		zap.Int("students", report.Students),
		zap.Int("transactions", report.Transactions),
		zap.Int("drifts", len(report.Drifts)),
		zap.Int("orphans", report.Orphans))
	return report, nil
}

// Backup writes the current snapshot to storage and returns a signed download link.
func (s *SnapshotService) Backup(ctx context.Context) (*BackupResult, error) {
	payload, err := json.MarshalIndent(s.Export(ctx), "", "  ")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode snapshot")
	}
	name := fmt.Sprintf("snapshot_%s.json", s.now().Format("20060102_150405.000"))
	relPath, err := s.storage.Save(name, payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store backup")
	}
	s.logger.Info("snapshot backup written", zap.String("name", relPath), zap.Int("bytes", len(payload)))
	return s.Link(relPath)
}

// Backups lists stored backups, newest first.
func (s *SnapshotService) Backups() ([]storage.FileInfo, error) {
	files, err := s.storage.List("")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list backups")
	}
	return files, nil
}

// Link signs a download URL for a stored backup.
func (s *SnapshotService) Link(name string) (*BackupResult, error) {
	token, expiresAt, err := s.signer.Generate("backup", name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign backup link")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &BackupResult{
		Name:      name,
		Token:     token,
		URL:       fmt.Sprintf("%s/backups/download/%s", prefix, token),
		ExpiresAt: expiresAt,
	}, nil
}

// OpenDownload validates a signed token and opens the referenced backup.
func (s *SnapshotService) OpenDownload(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, "", appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	f, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "backup not found")
	}
	return f, relPath, nil
}

// Cleanup removes backups older than the retention window.
func (s *SnapshotService) Cleanup() ([]string, error) {
	deleted, err := s.storage.CleanupOlderThan(s.cfg.Retention)
	if err != nil {
		return nil, err
	}
	if len(deleted) > 0 {
		s.logger.Info("expired backups removed", zap.Int("count", len(deleted)))
	}
	return deleted, nil
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *SnapshotService) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Cleanup(); err != nil {
				s.logger.Warn("backup cleanup failed", zap.Error(err))
			}
		}
	}
}

// reassignOwners hands schools and classes owned by unknown accounts to actor and
// drops unknown collaborators.
func (s *SnapshotService) reassignOwners(ctx context.Context, actor *models.JWTClaims, schools []models.School, classes []models.Class, report *ImportReport) error {
	ids := make([]string, 0, len(schools)+len(classes))
	for _, sc := range schools {
		ids = append(ids, sc.OwnerID)
	}
	for _, c := range classes {
		ids = append(ids, c.OwnerID)
		ids = append(ids, c.Collaborators...)
	}
	known, err := s.users.ExistingIDs(ctx, ids)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve teachers")
	}
	for i := range schools {
		if !known[schools[i].OwnerID] {
			schools[i].OwnerID = actor.UserID
			report.ReassignedOwners++
		}
	}
	for i := range classes {
		if !known[classes[i].OwnerID] {
			classes[i].OwnerID = actor.UserID
			report.ReassignedOwners++
		}
		kept := make([]string, 0, len(classes[i].Collaborators))
		for _, id := range classes[i].Collaborators {
			if known[id] && id != classes[i].OwnerID {
				kept = append(kept, id)
				continue
			}
			report.DroppedCollaborators++
		}
		classes[i].Collaborators = kept
	}
	return nil
}

// checkSnapshotGraph rejects duplicate ids, dangling parents and malformed transactions.
// Students take their school from their class.
func checkSnapshotGraph(schools []models.School, classes []models.Class, students []models.Student, txs []models.Transaction) error {
	schoolIDs := make(map[string]struct{}, len(schools))
	for _, sc := range schools {
		if sc.ID == "" {
			return errors.New("school without id")
		}
		if _, dup := schoolIDs[sc.ID]; dup {
			return fmt.Errorf("duplicate school id %s", sc.ID)
		}
		schoolIDs[sc.ID] = struct{}{}
	}
	classSchool := make(map[string]string, len(classes))
	for i, c := range classes {
		if c.ID == "" {
			return errors.New("class without id")
		}
		if _, dup := classSchool[c.ID]; dup {
			return fmt.Errorf("duplicate class id %s", c.ID)
		}
		if _, ok := schoolIDs[c.SchoolID]; !ok {
			return fmt.Errorf("class %s references unknown school %s", c.ID, c.SchoolID)
		}
		classSchool[c.ID] = c.SchoolID
		if classes[i].Collaborators == nil {
			classes[i].Collaborators = []string{}
		}
	}
	studentIDs := make(map[string]struct{}, len(students))
	for i, st := range students {
		if st.ID == "" {
			return errors.New("student without id")
		}
		if _, dup := studentIDs[st.ID]; dup {
			return fmt.Errorf("duplicate student id %s", st.ID)
		}
		schoolID, ok := classSchool[st.ClassID]
		if !ok {
			return fmt.Errorf("student %s references unknown class %s", st.ID, st.ClassID)
		}
		students[i].SchoolID = schoolID
		studentIDs[st.ID] = struct{}{}
	}
	txIDs := make(map[string]struct{}, len(txs))
	for _, t := range txs {
		if t.ID == "" {
			return errors.New("transaction without id")
		}
		if _, dup := txIDs[t.ID]; dup {
			return fmt.Errorf("duplicate transaction id %s", t.ID)
		}
		txIDs[t.ID] = struct{}{}
		if !t.Type.Valid() {
			return fmt.Errorf("transaction %s has unknown type %q", t.ID, t.Type)
		}
		if !models.ValidBimester(t.Bimester) {
			return fmt.Errorf("transaction %s has bimester %d", t.ID, t.Bimester)
		}
	}
	return nil
}

// clampCatalog applies the point ranges to imported definitions.
func clampCatalog(c models.Catalog) models.Catalog {
	out := copyCatalog(c)
	for i := range out.Tasks {
		out.Tasks[i].Points = ClampTaskPoints(out.Tasks[i].Category, out.Tasks[i].Points)
	}
	for i := range out.Badges {
		out.Badges[i].RewardValue = ClampBadgeReward(out.Badges[i].RewardValue)
	}
	for i := range out.Penalties {
		out.Penalties[i].Points = ClampPenaltyPoints(out.Penalties[i].Points)
	}
	return out
}

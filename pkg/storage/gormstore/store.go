package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskhooks/pkg/storage"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Config mirrors the storage section of the application config.
type Config struct {
	Driver      string
	DSN         string
	Dialect     string
	AutoMigrate bool
}

// Store implements storage.Store on top of GORM.
type Store struct {
	db   *gorm.DB
	inTx bool
}

var _ storage.Store = (*Store)(nil)

// Open creates a GORM-backed store.
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" && cfg.Dialect == "" {
		return nil, errors.New("storage driver or dialect is required")
	}
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	driver := normalizeDriver(cfg.Driver)
	if driver == "" {
		driver = normalizeDriver(cfg.Dialect)
	}
	if driver == "" {
		return nil, errors.New("unsupported storage driver")
	}

	gormDB, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// sqlite allows a single writer; an in-memory database also lives
		// on exactly one connection.
		sqlDB, err := gormDB.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	store := &Store{db: gormDB}
	if cfg.AutoMigrate {
		if err := store.migrate(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil || s.inTx {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InTx runs fn inside a database transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx storage.Store) error) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, inTx: true})
	})
}

// CreateOrganization inserts an organization and fills in its ID.
func (s *Store) CreateOrganization(ctx context.Context, org *storage.Organization) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if org == nil {
		return errors.New("organization is required")
	}
	data := toOrganizationRow(*org)
	if err := s.db.WithContext(ctx).Create(&data).Error; err != nil {
		return translate(err)
	}
	*org = fromOrganizationRow(data)
	return nil
}

// GetOrganization fetches an organization by primary key.
func (s *Store) GetOrganization(ctx context.Context, id int64) (*storage.Organization, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data organizationRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	org := fromOrganizationRow(data)
	return &org, nil
}

// GetOrganizationBySlug fetches an organization by slug.
func (s *Store) GetOrganizationBySlug(ctx context.Context, slug string) (*storage.Organization, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data organizationRow
	err := s.db.WithContext(ctx).Where("slug = ?", slug).Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	org := fromOrganizationRow(data)
	return &org, nil
}

// NextTaskSequence increments the counter with a single UPDATE and reads it
// back in the same transaction, so the row lock serializes concurrent callers.
func (s *Store) NextTaskSequence(ctx context.Context, organizationID int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	var next int64
	err := s.atomic(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&organizationRow{}).
			Where("id = ?", organizationID).
			UpdateColumn("task_sequence", gorm.Expr("task_sequence + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("organization %d: %w", organizationID, storage.ErrNotFound)
		}
		var data organizationRow
		if err := tx.Select("task_sequence").Where("id = ?", organizationID).Take(&data).Error; err != nil {
			return err
		}
		next = data.TaskSequence
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// CreateService inserts a service and fills in its ID.
func (s *Store) CreateService(ctx context.Context, service *storage.Service) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if service == nil {
		return errors.New("service is required")
	}
	data := toServiceRow(*service)
	if err := s.db.WithContext(ctx).Create(&data).Error; err != nil {
		return translate(err)
	}
	*service = fromServiceRow(data)
	return nil
}

// GetService fetches a service scoped to an organization.
func (s *Store) GetService(ctx context.Context, organizationID, id int64) (*storage.Service, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data serviceRow
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", organizationID, id).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	service := fromServiceRow(data)
	return &service, nil
}

// FindServiceByRepository returns the oldest service bound to a GitHub
// repository full name.
func (s *Store) FindServiceByRepository(ctx context.Context, fullName string) (*storage.Service, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if strings.TrimSpace(fullName) == "" {
		return nil, nil
	}
	var data serviceRow
	err := s.db.WithContext(ctx).
		Where("LOWER(github_repo) = ?", strings.ToLower(fullName)).
		Order("id asc").
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	service := fromServiceRow(data)
	return &service, nil
}

// CreateUser inserts a user and fills in its ID.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if user == nil {
		return errors.New("user is required")
	}
	data := toUserRow(*user)
	if err := s.db.WithContext(ctx).Create(&data).Error; err != nil {
		return translate(err)
	}
	*user = fromUserRow(data)
	return nil
}

// GetUser fetches a user by primary key.
func (s *Store) GetUser(ctx context.Context, id int64) (*storage.User, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data userRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user := fromUserRow(data)
	return &user, nil
}

// GetUserByToken resolves an API bearer token to its user.
func (s *Store) GetUserByToken(ctx context.Context, token string) (*storage.User, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if token == "" {
		return nil, nil
	}
	var data userRow
	err := s.db.WithContext(ctx).Where("api_token = ?", token).Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user := fromUserRow(data)
	return &user, nil
}

// AddMembership inserts or updates a user's role in an organization.
func (s *Store) AddMembership(ctx context.Context, membership storage.Membership) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if membership.Role == "" {
		return errors.New("role is required")
	}
	data := membershipRow{
		OrganizationID: membership.OrganizationID,
		UserID:         membership.UserID,
		Role:           membership.Role,
		CreatedAt:      membership.CreatedAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "organization_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role"}),
		}).
		Create(&data).Error
}

// GetMembership fetches a user's membership in an organization.
func (s *Store) GetMembership(ctx context.Context, organizationID, userID int64) (*storage.Membership, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data membershipRow
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", organizationID, userID).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &storage.Membership{
		OrganizationID: data.OrganizationID,
		UserID:         data.UserID,
		Role:           data.Role,
		CreatedAt:      data.CreatedAt,
	}, nil
}

// CreateSprint inserts a sprint and fills in its ID.
func (s *Store) CreateSprint(ctx context.Context, sprint *storage.Sprint) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if sprint == nil {
		return errors.New("sprint is required")
	}
	data := toSprintRow(*sprint)
	if err := s.db.WithContext(ctx).Create(&data).Error; err != nil {
		return translate(err)
	}
	*sprint = fromSprintRow(data)
	return nil
}

// GetSprint fetches a sprint scoped to an organization.
func (s *Store) GetSprint(ctx context.Context, organizationID, id int64) (*storage.Sprint, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data sprintRow
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", organizationID, id).
		Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sprint := fromSprintRow(data)
	return &sprint, nil
}

// CreateTask inserts a task. A duplicate (organization, task id) pair yields
// storage.ErrConflict.
func (s *Store) CreateTask(ctx context.Context, task *storage.Task) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if task == nil {
		return errors.New("task is required")
	}
	data := toTaskRow(*task)
	if err := s.db.WithContext(ctx).Create(&data).Error; err != nil {
		return translate(err)
	}
	*task = fromTaskRow(data)
	return nil
}

// LinkTaskSprint sets the sprint of an existing task.
func (s *Store) LinkTaskSprint(ctx context.Context, taskID, sprintID int64) error {
	return s.updateTask(ctx, taskID, map[string]interface{}{"sprint_id": sprintID})
}

// SetTaskIssue records the GitHub issue created for a task.
func (s *Store) SetTaskIssue(ctx context.Context, taskID int64, number int, url string) error {
	return s.updateTask(ctx, taskID, map[string]interface{}{
		"github_issue_number": number,
		"github_issue_url":    url,
	})
}

// GetTaskByTaskID fetches a task by its human readable identifier.
func (s *Store) GetTaskByTaskID(ctx context.Context, organizationID int64, taskID string) (*storage.Task, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data taskRow
	query := s.db.WithContext(ctx).Where("task_id = ?", taskID)
	if organizationID > 0 {
		query = query.Where("organization_id = ?", organizationID)
	}
	err := query.Order("id asc").Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	task := fromTaskRow(data)
	return &task, nil
}

// CountTasks returns how many tasks an organization owns.
func (s *Store) CountTasks(ctx context.Context, organizationID int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("organization_id = ?", organizationID).
		Count(&count).Error
	return count, err
}

// RecordActivity stores an activity unless the same delivery was already
// recorded for the task, in which case it returns false and leaves activity
// untouched.
func (s *Store) RecordActivity(ctx context.Context, activity *storage.Activity) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("store is not initialized")
	}
	if activity == nil {
		return false, errors.New("activity is required")
	}
	if activity.DeliveryID == "" {
		return false, errors.New("activity delivery id is required")
	}
	data := toActivityRow(*activity)
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}, {Name: "delivery_id"}},
			DoNothing: true,
		}).
		Create(&data)
	if result.Error != nil {
		return false, translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	*activity = fromActivityRow(data)
	return true, nil
}

// ListActivities returns a task's activities oldest first.
func (s *Store) ListActivities(ctx context.Context, taskID int64) ([]storage.Activity, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	var data []activityRow
	err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("id asc").
		Find(&data).Error
	if err != nil {
		return nil, err
	}
	activities := make([]storage.Activity, 0, len(data))
	for _, item := range data {
		activities = append(activities, fromActivityRow(item))
	}
	return activities, nil
}

func (s *Store) updateTask(ctx context.Context, taskID int64, values map[string]interface{}) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	res := s.db.WithContext(ctx).
		Model(&taskRow{}).
		Where("id = ?", taskID).
		Updates(values)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %d: %w", taskID, storage.ErrNotFound)
	}
	return nil
}

// atomic runs fn in the surrounding transaction or opens a new one.
func (s *Store) atomic(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.inTx {
		return fn(s.db.WithContext(ctx))
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&organizationRow{},
		&serviceRow{},
		&userRow{},
		&membershipRow{},
		&sprintRow{},
		&taskRow{},
		&activityRow{},
	)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}

func normalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return ""
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "mysql":
		return gorm.Open(mysql.Open(dsn), cfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

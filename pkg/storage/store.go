package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by write operations whose target row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict wraps unique constraint violations.
	ErrConflict = errors.New("record conflict")
)

// Membership roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// Organization is a tenant. TaskSequence is the last task number handed out.
type Organization struct {
	ID           int64
	Name         string
	Slug         string
	TaskPrefix   string
	TaskSequence int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Service is a product area inside an organization, optionally backed by a
// GitHub repository.
type Service struct {
	ID                   int64
	OrganizationID       int64
	Name                 string
	TaskPrefix           string
	GitHubRepo           string
	GitHubIntegration    bool
	GitHubInstallationID int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// User is an account that can belong to several organizations.
type User struct {
	ID        int64
	Name      string
	Email     string
	Login     string
	APIToken  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Membership ties a user to an organization with a role.
type Membership struct {
	OrganizationID int64
	UserID         int64
	Role           string
	CreatedAt      time.Time
}

// Sprint is a time box tasks can be planned into.
type Sprint struct {
	ID             int64
	OrganizationID int64
	Name           string
	StartsOn       *time.Time
	EndsOn         *time.Time
	CreatedAt      time.Time
}

// Task is a tracked unit of work. TaskID is the human readable identifier,
// unique per organization.
type Task struct {
	ID                int64
	OrganizationID    int64
	TaskID            string
	Title             string
	Description       string
	Status            string
	Priority          string
	Labels            []string
	DueOn             *time.Time
	ServiceID         *int64
	AssigneeID        *int64
	SprintID          *int64
	CreatedByID       int64
	GitHubIssueNumber int
	GitHubIssueURL    string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Activity is something that happened to a task outside the tracker, such as
// a push referencing it.
type Activity struct {
	ID             int64
	OrganizationID int64
	TaskID         int64
	Kind           string
	DeliveryID     string
	Repository     string
	Ref            string
	Branch         string
	After          string
	AuthorName     string
	AuthorEmail    string
	Message        string
	CommitCount    int
	CommitAuthors  []string
	CreatedAt      time.Time
}

// Store is the persistence boundary of the task domain. Lookups return
// (nil, nil) when nothing matches.
type Store interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error)
	// NextTaskSequence atomically increments and returns the organization's
	// task counter.
	NextTaskSequence(ctx context.Context, organizationID int64) (int64, error)

	CreateService(ctx context.Context, service *Service) error
	GetService(ctx context.Context, organizationID, id int64) (*Service, error)
	FindServiceByRepository(ctx context.Context, fullName string) (*Service, error)

	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByToken(ctx context.Context, token string) (*User, error)
	AddMembership(ctx context.Context, membership Membership) error
	GetMembership(ctx context.Context, organizationID, userID int64) (*Membership, error)

	CreateSprint(ctx context.Context, sprint *Sprint) error
	GetSprint(ctx context.Context, organizationID, id int64) (*Sprint, error)

	CreateTask(ctx context.Context, task *Task) error
	LinkTaskSprint(ctx context.Context, taskID, sprintID int64) error
	SetTaskIssue(ctx context.Context, taskID int64, number int, url string) error
	GetTaskByTaskID(ctx context.Context, organizationID int64, taskID string) (*Task, error)
	CountTasks(ctx context.Context, organizationID int64) (int64, error)

	// RecordActivity stores an activity and reports whether it was new.
	// Recording the same delivery for the same task twice is a no-op that
	// returns false.
	RecordActivity(ctx context.Context, activity *Activity) (bool, error)
	ListActivities(ctx context.Context, taskID int64) ([]Activity, error)

	// InTx runs fn against a transactional view of the store. The transaction
	// commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Store) error) error
	Close() error
}

package tasks

import (
	"context"
	"errors"
	"fmt"

	"taskhooks/internal"
	"taskhooks/pkg/storage"

	"go.uber.org/zap"
)

// IssueCreator opens a GitHub issue mirroring a task.
type IssueCreator interface {
	CreateTaskIssue(ctx context.Context, service storage.Service, task storage.Task) (number int, url string, err error)
}

// Request is the input of one task creation. Service is optional and is
// checked against Params.ServiceID when both are present.
type Request struct {
	Params       Params
	User         storage.User
	Organization storage.Organization
	Service      *storage.Service
}

// Result holds exactly one of Task or Failure.
type Result struct {
	Task    *TaskDTO
	Failure *Failure
	// Sprint reports how the sprint link step ended.
	Sprint SprintLink
}

// OK reports whether the task was created.
func (r Result) OK() bool {
	return r.Failure == nil && r.Task != nil
}

// SprintLink is the outcome of the sprint link step. A sprint that does not
// resolve leaves the task unlinked instead of failing the pipeline.
type SprintLink string

const (
	SprintNotRequested SprintLink = "not_requested"
	SprintLinked       SprintLink = "linked"
	SprintUnresolved   SprintLink = "unresolved"
)

// Creator runs the task creation pipeline.
type Creator struct {
	store      storage.Store
	authorizer Authorizer
	issues     IssueCreator
	logger     *zap.Logger
}

// CreatorOption customizes a Creator.
type CreatorOption func(*Creator)

// WithIssueCreator enables the GitHub issue step.
func WithIssueCreator(issues IssueCreator) CreatorOption {
	return func(c *Creator) {
		c.issues = issues
	}
}

// WithAuthorizer replaces the membership based authorizer.
func WithAuthorizer(authorizer Authorizer) CreatorOption {
	return func(c *Creator) {
		if authorizer != nil {
			c.authorizer = authorizer
		}
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) CreatorOption {
	return func(c *Creator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCreator builds a Creator over store.
func NewCreator(store storage.Store, opts ...CreatorOption) *Creator {
	c := &Creator{
		store:      store,
		authorizer: MembershipAuthorizer{Store: store},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// pipelineState is threaded through the steps.
type pipelineState struct {
	req      Request
	params   Params
	service  *storage.Service
	assignee *storage.User
	task     storage.Task
	sprint   SprintLink
}

// Create runs the pipeline. Domain failures are returned in Result.Failure;
// the error return is reserved for infrastructure problems.
func (c *Creator) Create(ctx context.Context, req Request) (Result, error) {
	if c == nil || c.store == nil {
		return Result{}, errors.New("task creator is not initialized")
	}
	state := &pipelineState{req: req, params: req.Params.normalized()}
	logger := c.logger.With(
		zap.Int64("organization_id", req.Organization.ID),
		zap.Int64("user_id", req.User.ID),
	)

	steps := []struct {
		name string
		run  func(context.Context, *pipelineState) (*Failure, error)
	}{
		{"validate_params", c.validateParams},
		{"check_organization_permission", c.checkPermission},
		{"validate_service_context", c.validateService},
		{"validate_assignee", c.validateAssignee},
	}
	for _, step := range steps {
		failure, err := step.run(ctx, state)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", step.name, err)
		}
		if failure != nil {
			logger.Info("task creation rejected",
				zap.String("step", step.name),
				zap.String("kind", string(failure.Kind)),
				zap.String("detail", failure.Detail),
			)
			return Result{Failure: failure}, nil
		}
	}

	if err := c.store.InTx(ctx, func(tx storage.Store) error {
		if err := c.generateTaskID(ctx, tx, state); err != nil {
			return err
		}
		if err := c.createTask(ctx, tx, state); err != nil {
			return err
		}
		return c.linkSprint(ctx, tx, state, logger)
	}); err != nil {
		return Result{}, err
	}
	internal.IncTaskCreated(req.Organization.Slug)

	c.createGitHubIssue(ctx, state, logger)

	logger.Info("task created",
		zap.String("task_id", state.task.TaskID),
		zap.String("sprint", string(state.sprint)),
	)
	return Result{Task: NewTaskDTO(state.task), Sprint: state.sprint}, nil
}

func (c *Creator) validateParams(_ context.Context, state *pipelineState) (*Failure, error) {
	if fields := state.params.Validate(); len(fields) > 0 {
		return validationFailure(fields), nil
	}
	return nil, nil
}

func (c *Creator) checkPermission(ctx context.Context, state *pipelineState) (*Failure, error) {
	allowed, err := c.authorizer.CanCreateTasks(ctx, state.req.User, state.req.Organization)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return permissionDenied("you are not allowed to create tasks in this organization"), nil
	}
	return nil, nil
}

func (c *Creator) validateService(ctx context.Context, state *pipelineState) (*Failure, error) {
	orgID := state.req.Organization.ID
	given := state.req.Service
	if state.params.ServiceID == nil {
		if given != nil && given.OrganizationID != orgID {
			return notFound("service not found"), nil
		}
		state.service = given
		return nil, nil
	}
	if given != nil && given.ID == *state.params.ServiceID && given.OrganizationID == orgID {
		state.service = given
		return nil, nil
	}
	service, err := c.store.GetService(ctx, orgID, *state.params.ServiceID)
	if err != nil {
		return nil, err
	}
	if service == nil {
		return notFound("service not found"), nil
	}
	state.service = service
	return nil, nil
}

func (c *Creator) validateAssignee(ctx context.Context, state *pipelineState) (*Failure, error) {
	if state.params.AssigneeID == nil {
		return nil, nil
	}
	user, err := c.store.GetUser(ctx, *state.params.AssigneeID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return invalidAssignee("assignee does not exist"), nil
	}
	membership, err := c.store.GetMembership(ctx, state.req.Organization.ID, user.ID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return invalidAssignee("assignee is not a member of this organization"), nil
	}
	state.assignee = user
	return nil, nil
}

func (c *Creator) generateTaskID(ctx context.Context, tx storage.Store, state *pipelineState) error {
	taskID, err := NewSequenceAllocator(tx).NextTaskID(ctx, state.req.Organization, state.service)
	if err != nil {
		return fmt.Errorf("generate_task_id: %w", err)
	}
	state.task.TaskID = taskID
	return nil
}

func (c *Creator) createTask(ctx context.Context, tx storage.Store, state *pipelineState) error {
	task := storage.Task{
		OrganizationID: state.req.Organization.ID,
		TaskID:         state.task.TaskID,
		Title:          state.params.Title,
		Description:    state.params.Description,
		Status:         StatusTodo,
		Priority:       state.params.Priority,
		Labels:         state.params.Labels,
		DueOn:          state.params.dueOn(),
		CreatedByID:    state.req.User.ID,
	}
	if state.service != nil {
		id := state.service.ID
		task.ServiceID = &id
	}
	if state.assignee != nil {
		id := state.assignee.ID
		task.AssigneeID = &id
	}
	if err := tx.CreateTask(ctx, &task); err != nil {
		return fmt.Errorf("create_task: %w", err)
	}
	state.task = task
	return nil
}

func (c *Creator) linkSprint(ctx context.Context, tx storage.Store, state *pipelineState, logger *zap.Logger) error {
	if state.params.SprintID == nil {
		state.sprint = SprintNotRequested
		return nil
	}
	sprint, err := tx.GetSprint(ctx, state.req.Organization.ID, *state.params.SprintID)
	if err != nil {
		return fmt.Errorf("link_to_sprint: %w", err)
	}
	if sprint == nil {
		logger.Info("sprint not found, task left unlinked",
			zap.Int64("sprint_id", *state.params.SprintID),
			zap.String("task_id", state.task.TaskID),
		)
		state.sprint = SprintUnresolved
		return nil
	}
	if err := tx.LinkTaskSprint(ctx, state.task.ID, sprint.ID); err != nil {
		return fmt.Errorf("link_to_sprint: %w", err)
	}
	id := sprint.ID
	state.task.SprintID = &id
	state.sprint = SprintLinked
	return nil
}

// createGitHubIssue never affects the outcome. Errors and panics are logged
// and counted.
func (c *Creator) createGitHubIssue(ctx context.Context, state *pipelineState, logger *zap.Logger) {
	if c.issues == nil || state.service == nil || !state.service.GitHubIntegration || !state.params.CreateGitHubIssue {
		return
	}
	logger = logger.With(zap.String("task_id", state.task.TaskID), zap.String("repository", state.service.GitHubRepo))
	defer func() {
		if r := recover(); r != nil {
			internal.IncIssueFailure(state.service.GitHubRepo)
			logger.Error("github issue creation panicked", zap.Any("panic", r))
		}
	}()

	number, url, err := c.issues.CreateTaskIssue(ctx, *state.service, state.task)
	if err != nil {
		internal.IncIssueFailure(state.service.GitHubRepo)
		logger.Warn("github issue creation failed", zap.Error(err))
		return
	}
	if err := c.store.SetTaskIssue(ctx, state.task.ID, number, url); err != nil {
		internal.IncIssueFailure(state.service.GitHubRepo)
		logger.Warn("github issue created but not recorded", zap.Int("issue", number), zap.Error(err))
		return
	}
	state.task.GitHubIssueNumber = number
	state.task.GitHubIssueURL = url
	logger.Info("github issue created", zap.Int("issue", number), zap.String("url", url))
}

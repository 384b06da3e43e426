package gormstore

import (
	"time"

	"taskhooks/pkg/storage"
)

type organizationRow struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name         string    `gorm:"column:name;size:255;not null"`
	Slug         string    `gorm:"column:slug;size:128;not null;uniqueIndex"`
	TaskPrefix   string    `gorm:"column:task_prefix;size:16"`
	TaskSequence int64     `gorm:"column:task_sequence;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (organizationRow) TableName() string { return "organizations" }

type serviceRow struct {
	ID                   int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrganizationID       int64     `gorm:"column:organization_id;not null;index"`
	Name                 string    `gorm:"column:name;size:255;not null"`
	TaskPrefix           string    `gorm:"column:task_prefix;size:16"`
	GitHubRepo           string    `gorm:"column:github_repo;size:255;index"`
	GitHubIntegration    bool      `gorm:"column:github_integration;not null;default:false"`
	GitHubInstallationID int64     `gorm:"column:github_installation_id"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (serviceRow) TableName() string { return "services" }

type userRow struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;size:255"`
	Email     string    `gorm:"column:email;size:255;not null;uniqueIndex"`
	Login     string    `gorm:"column:login;size:255"`
	APIToken  *string   `gorm:"column:api_token;size:128;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (userRow) TableName() string { return "users" }

type membershipRow struct {
	OrganizationID int64     `gorm:"column:organization_id;primaryKey"`
	UserID         int64     `gorm:"column:user_id;primaryKey"`
	Role           string    `gorm:"column:role;size:32;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (membershipRow) TableName() string { return "memberships" }

type sprintRow struct {
	ID             int64      `gorm:"column:id;primaryKey;autoIncrement"`
	OrganizationID int64      `gorm:"column:organization_id;not null;index"`
	Name           string     `gorm:"column:name;size:255;not null"`
	StartsOn       *time.Time `gorm:"column:starts_on"`
	EndsOn         *time.Time `gorm:"column:ends_on"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (sprintRow) TableName() string { return "sprints" }

type taskRow struct {
	ID                int64      `gorm:"column:id;primaryKey;autoIncrement"`
	OrganizationID    int64      `gorm:"column:organization_id;not null;uniqueIndex:idx_tasks_org_task_id"`
	TaskID            string     `gorm:"column:task_id;size:64;not null;uniqueIndex:idx_tasks_org_task_id"`
	Title             string     `gorm:"column:title;size:255;not null"`
	Description       string     `gorm:"column:description;type:text"`
	Status            string     `gorm:"column:status;size:32;not null"`
	Priority          string     `gorm:"column:priority;size:16"`
	Labels            []string   `gorm:"column:labels;type:text;serializer:json"`
	DueOn             *time.Time `gorm:"column:due_on"`
	ServiceID         *int64     `gorm:"column:service_id;index"`
	AssigneeID        *int64     `gorm:"column:assignee_id;index"`
	SprintID          *int64     `gorm:"column:sprint_id;index"`
	CreatedByID       int64      `gorm:"column:created_by_id;not null"`
	GitHubIssueNumber int        `gorm:"column:github_issue_number"`
	GitHubIssueURL    string     `gorm:"column:github_issue_url;size:512"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (taskRow) TableName() string { return "tasks" }

type activityRow struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrganizationID int64     `gorm:"column:organization_id;not null;index"`
	TaskID         int64     `gorm:"column:task_id;not null;uniqueIndex:idx_activities_task_delivery"`
	Kind           string    `gorm:"column:kind;size:32;not null"`
	DeliveryID     string    `gorm:"column:delivery_id;size:128;not null;uniqueIndex:idx_activities_task_delivery"`
	Repository     string    `gorm:"column:repository;size:255"`
	Ref            string    `gorm:"column:ref;size:255"`
	Branch         string    `gorm:"column:branch;size:255"`
	After          string    `gorm:"column:after_sha;size:64"`
	AuthorName     string    `gorm:"column:author_name;size:255"`
	AuthorEmail    string    `gorm:"column:author_email;size:255"`
	Message        string    `gorm:"column:message;type:text"`
	CommitCount    int       `gorm:"column:commit_count"`
	CommitAuthors  []string  `gorm:"column:commit_authors;type:text;serializer:json"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (activityRow) TableName() string { return "task_activities" }

func toOrganizationRow(org storage.Organization) organizationRow {
	return organizationRow{
		ID:           org.ID,
		Name:         org.Name,
		Slug:         org.Slug,
		TaskPrefix:   org.TaskPrefix,
		TaskSequence: org.TaskSequence,
		CreatedAt:    org.CreatedAt,
		UpdatedAt:    org.UpdatedAt,
	}
}

func fromOrganizationRow(row organizationRow) storage.Organization {
	return storage.Organization{
		ID:           row.ID,
		Name:         row.Name,
		Slug:         row.Slug,
		TaskPrefix:   row.TaskPrefix,
		TaskSequence: row.TaskSequence,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
}

func toServiceRow(service storage.Service) serviceRow {
	return serviceRow{
		ID:                   service.ID,
		OrganizationID:       service.OrganizationID,
		Name:                 service.Name,
		TaskPrefix:           service.TaskPrefix,
		GitHubRepo:           service.GitHubRepo,
		GitHubIntegration:    service.GitHubIntegration,
		GitHubInstallationID: service.GitHubInstallationID,
		CreatedAt:            service.CreatedAt,
		UpdatedAt:            service.UpdatedAt,
	}
}

func fromServiceRow(row serviceRow) storage.Service {
	return storage.Service{
		ID:                   row.ID,
		OrganizationID:       row.OrganizationID,
		Name:                 row.Name,
		TaskPrefix:           row.TaskPrefix,
		GitHubRepo:           row.GitHubRepo,
		GitHubIntegration:    row.GitHubIntegration,
		GitHubInstallationID: row.GitHubInstallationID,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
}

func toUserRow(user storage.User) userRow {
	row := userRow{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		Login:     user.Login,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if user.APIToken != "" {
		token := user.APIToken
		row.APIToken = &token
	}
	return row
}

func fromUserRow(row userRow) storage.User {
	user := storage.User{
		ID:        row.ID,
		Name:      row.Name,
		Email:     row.Email,
		Login:     row.Login,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.APIToken != nil {
		user.APIToken = *row.APIToken
	}
	return user
}

func toSprintRow(sprint storage.Sprint) sprintRow {
	return sprintRow{
		ID:             sprint.ID,
		OrganizationID: sprint.OrganizationID,
		Name:           sprint.Name,
		StartsOn:       sprint.StartsOn,
		EndsOn:         sprint.EndsOn,
		CreatedAt:      sprint.CreatedAt,
	}
}

func fromSprintRow(row sprintRow) storage.Sprint {
	return storage.Sprint{
		ID:             row.ID,
		OrganizationID: row.OrganizationID,
		Name:           row.Name,
		StartsOn:       row.StartsOn,
		EndsOn:         row.EndsOn,
		CreatedAt:      row.CreatedAt,
	}
}

func toTaskRow(task storage.Task) taskRow {
	return taskRow{
		ID:                task.ID,
		OrganizationID:    task.OrganizationID,
		TaskID:            task.TaskID,
		Title:             task.Title,
		Description:       task.Description,
		Status:            task.Status,
		Priority:          task.Priority,
		Labels:            task.Labels,
		DueOn:             task.DueOn,
		ServiceID:         task.ServiceID,
		AssigneeID:        task.AssigneeID,
		SprintID:          task.SprintID,
		CreatedByID:       task.CreatedByID,
		GitHubIssueNumber: task.GitHubIssueNumber,
		GitHubIssueURL:    task.GitHubIssueURL,
		CreatedAt:         task.CreatedAt,
		UpdatedAt:         task.UpdatedAt,
	}
}

func fromTaskRow(row taskRow) storage.Task {
	return storage.Task{
		ID:                row.ID,
		OrganizationID:    row.OrganizationID,
		TaskID:            row.TaskID,
		Title:             row.Title,
		Description:       row.Description,
		Status:            row.Status,
		Priority:          row.Priority,
		Labels:            row.Labels,
		DueOn:             row.DueOn,
		ServiceID:         row.ServiceID,
		AssigneeID:        row.AssigneeID,
		SprintID:          row.SprintID,
		CreatedByID:       row.CreatedByID,
		GitHubIssueNumber: row.GitHubIssueNumber,
		GitHubIssueURL:    row.GitHubIssueURL,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}

func toActivityRow(activity storage.Activity) activityRow {
	return activityRow{
		ID:             activity.ID,
		OrganizationID: activity.OrganizationID,
		TaskID:         activity.TaskID,
		Kind:           activity.Kind,
		DeliveryID:     activity.DeliveryID,
		Repository:     activity.Repository,
		Ref:            activity.Ref,
		Branch:         activity.Branch,
		After:          activity.After,
		AuthorName:     activity.AuthorName,
		AuthorEmail:    activity.AuthorEmail,
		Message:        activity.Message,
		CommitCount:    activity.CommitCount,
		CommitAuthors:  activity.CommitAuthors,
		CreatedAt:      activity.CreatedAt,
	}
}

func fromActivityRow(row activityRow) storage.Activity {
	return storage.Activity{
		ID:             row.ID,
		OrganizationID: row.OrganizationID,
		TaskID:         row.TaskID,
		Kind:           row.Kind,
		DeliveryID:     row.DeliveryID,
		Repository:     row.Repository,
		Ref:            row.Ref,
		Branch:         row.Branch,
		After:          row.After,
		AuthorName:     row.AuthorName,
		AuthorEmail:    row.AuthorEmail,
		Message:        row.Message,
		CommitCount:    row.CommitCount,
		CommitAuthors:  row.CommitAuthors,
		CreatedAt:      row.CreatedAt,
	}
}

package tasks

import (
	"time"

	"taskhooks/pkg/storage"
)

// TaskDTO is the outward representation of a task.
type TaskDTO struct {
	ID                int64         `json:"id"`
	TaskID            string        `json:"task_id"`
	OrganizationID    int64         `json:"organization_id"`
	Title             string        `json:"title"`
	Description       string        `json:"description,omitempty"`
	Status            string        `json:"status"`
	Priority          string        `json:"priority"`
	Labels            []string      `json:"labels"`
	DueOn             string        `json:"due_on,omitempty"`
	ServiceID         *int64        `json:"service_id"`
	AssigneeID        *int64        `json:"assignee_id"`
	SprintID          *int64        `json:"sprint_id"`
	CreatedByID       int64         `json:"created_by_id"`
	GitHubIssueNumber int           `json:"github_issue_number,omitempty"`
	GitHubIssueURL    string        `json:"github_issue_url,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	Activities        []ActivityDTO `json:"activities,omitempty"`
}

// ActivityDTO is the outward representation of a task activity.
type ActivityDTO struct {
	Kind          string    `json:"kind"`
	Repository    string    `json:"repository"`
	Branch        string    `json:"branch"`
	After         string    `json:"after,omitempty"`
	AuthorName    string    `json:"author_name"`
	AuthorEmail   string    `json:"author_email,omitempty"`
	Message       string    `json:"message,omitempty"`
	CommitCount   int       `json:"commit_count"`
	CommitAuthors []string  `json:"commit_authors"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewTaskDTO projects a stored task.
func NewTaskDTO(task storage.Task) *TaskDTO {
	labels := task.Labels
	if labels == nil {
		labels = []string{}
	}
	dto := &TaskDTO{
		ID:                task.ID,
		TaskID:            task.TaskID,
		OrganizationID:    task.OrganizationID,
		Title:             task.Title,
		Description:       task.Description,
		Status:            task.Status,
		Priority:          task.Priority,
		Labels:            labels,
		ServiceID:         task.ServiceID,
		AssigneeID:        task.AssigneeID,
		SprintID:          task.SprintID,
		CreatedByID:       task.CreatedByID,
		GitHubIssueNumber: task.GitHubIssueNumber,
		GitHubIssueURL:    task.GitHubIssueURL,
		CreatedAt:         task.CreatedAt,
	}
	if task.DueOn != nil {
		dto.DueOn = task.DueOn.Format(dueOnLayout)
	}
	return dto
}

// WithActivities attaches activities to the DTO.
func (d *TaskDTO) WithActivities(activities []storage.Activity) *TaskDTO {
	d.Activities = make([]ActivityDTO, 0, len(activities))
	for _, activity := range activities {
		authors := activity.CommitAuthors
		if authors == nil {
			authors = []string{}
		}
		d.Activities = append(d.Activities, ActivityDTO{
			Kind:          activity.Kind,
			Repository:    activity.Repository,
			Branch:        activity.Branch,
			After:         activity.After,
			AuthorName:    activity.AuthorName,
			AuthorEmail:   activity.AuthorEmail,
			Message:       activity.Message,
			CommitCount:   activity.CommitCount,
			CommitAuthors: authors,
			CreatedAt:     activity.CreatedAt,
		})
	}
	return d
}

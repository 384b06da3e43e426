package tasks

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Task priorities accepted by the API.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// StatusTodo is the status every new task starts in.
const StatusTodo = "todo"

const dueOnLayout = "2006-01-02"

// Params is the raw caller input for creating a task.
type Params struct {
	Title             string   `json:"title" validate:"required,max=255"`
	Description       string   `json:"description" validate:"max=10000"`
	Priority          string   `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	DueOn             string   `json:"due_on" validate:"omitempty,datetime=2006-01-02"`
	Labels            []string `json:"labels" validate:"max=20,dive,required,max=50"`
	AssigneeID        *int64   `json:"assignee_id" validate:"omitempty,gt=0"`
	SprintID          *int64   `json:"sprint_id" validate:"omitempty,gt=0"`
	ServiceID         *int64   `json:"service_id" validate:"omitempty,gt=0"`
	CreateGitHubIssue bool     `json:"create_github_issue"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func paramsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// normalized trims free text and fills in defaults.
func (p Params) normalized() Params {
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.Priority = strings.ToLower(strings.TrimSpace(p.Priority))
	if p.Priority == "" {
		p.Priority = PriorityMedium
	}
	p.DueOn = strings.TrimSpace(p.DueOn)
	if len(p.Labels) > 0 {
		labels := make([]string, 0, len(p.Labels))
		for _, label := range p.Labels {
			labels = append(labels, strings.TrimSpace(label))
		}
		p.Labels = labels
	}
	return p
}

// Validate checks p and returns a field to message map, or nil when p is
// valid.
func (p Params) Validate() map[string]string {
	err := paramsValidator().Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"params": err.Error()}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if _, seen := fields[name]; seen {
			continue
		}
		fields[name] = fieldMessage(fe)
	}
	return fields
}

func (p Params) dueOn() *time.Time {
	if p.DueOn == "" {
		return nil
	}
	parsed, err := time.Parse(dueOnLayout, p.DueOn)
	if err != nil {
		return nil
	}
	return &parsed
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "can't be blank"
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must have at most %s entries", fe.Param())
		}
		return fmt.Sprintf("is too long (maximum is %s characters)", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "datetime":
		return "must be a date formatted YYYY-MM-DD"
	case "gt":
		return "must be a positive id"
	default:
		return "is invalid"
	}
}

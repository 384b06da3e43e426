package tasks

import (
	"fmt"
	"sort"
	"strings"
)

// FailureKind classifies a domain failure of the creation pipeline.
type FailureKind string

const (
	KindValidation       FailureKind = "validation_error"
	KindPermissionDenied FailureKind = "permission_denied"
	KindNotFound         FailureKind = "not_found"
	KindInvalidAssignee  FailureKind = "invalid_assignee"
)

// Failure is a caller-facing outcome that aborted the pipeline. It is a value,
// not an infrastructure error; it implements error only so it can be logged.
type Failure struct {
	Kind   FailureKind
	Detail string
	Fields map[string]string
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	if len(f.Fields) == 0 {
		return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
	}
	keys := make([]string, 0, len(f.Fields))
	for key := range f.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+" "+f.Fields[key])
	}
	return fmt.Sprintf("%s: %s (%s)", f.Kind, f.Detail, strings.Join(parts, ", "))
}

func validationFailure(fields map[string]string) *Failure {
	return &Failure{Kind: KindValidation, Detail: "task parameters are invalid", Fields: fields}
}

func permissionDenied(detail string) *Failure {
	return &Failure{Kind: KindPermissionDenied, Detail: detail}
}

func notFound(detail string) *Failure {
	return &Failure{Kind: KindNotFound, Detail: detail}
}

func invalidAssignee(detail string) *Failure {
	return &Failure{
		Kind:   KindInvalidAssignee,
		Detail: detail,
		Fields: map[string]string{"assignee_id": detail},
	}
}

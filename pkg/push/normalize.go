package push

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// NormalizationError reports the required fields a push payload was missing
// or carried with the wrong type.
type NormalizationError struct {
	Fields map[string]string
}

func (e *NormalizationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+" "+e.Fields[key])
	}
	return "invalid push payload: " + strings.Join(parts, ", ")
}

// NormalizeJSON decodes a raw webhook body and normalizes it.
func NormalizeJSON(body []byte) (*Event, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode push payload: %w", err)
	}
	return Normalize(raw)
}

// Normalize turns a loosely typed push payload into an Event. Only ref and
// repository are required; everything else is optional and a value of the
// wrong type is treated as absent.
func Normalize(raw map[string]interface{}) (*Event, error) {
	fields := map[string]string{}

	ref, refOK := raw["ref"]
	refValue, isString := ref.(string)
	switch {
	case !refOK || ref == nil:
		fields["ref"] = "is required"
	case !isString:
		fields["ref"] = "must be a string"
	}

	repoRaw, repoOK := raw["repository"]
	repoObject, isObject := repoRaw.(map[string]interface{})
	switch {
	case !repoOK || repoRaw == nil:
		fields["repository"] = "is required"
	case !isObject:
		fields["repository"] = "must be an object"
	}

	if len(fields) > 0 {
		return nil, &NormalizationError{Fields: fields}
	}

	event := &Event{
		ref:    refValue,
		before: stringField(raw, "before"),
		after:  stringField(raw, "after"),
		repository: Repository{
			FullName: stringField(repoObject, "full_name"),
			Name:     stringField(repoObject, "name"),
		},
		created: boolField(raw, "created"),
		deleted: boolField(raw, "deleted"),
		forced:  boolField(raw, "forced"),
	}

	if pusher, ok := objectField(raw, "pusher"); ok {
		event.pusher = &Pusher{
			Name:  stringField(pusher, "name"),
			Email: stringField(pusher, "email"),
		}
	}
	if sender, ok := objectField(raw, "sender"); ok {
		event.sender = &Sender{
			Login: stringField(sender, "login"),
			Email: stringField(sender, "email"),
		}
	}
	if head, ok := objectField(raw, "head_commit"); ok {
		event.headCommit = &HeadCommit{
			ID:      stringField(head, "id"),
			Message: stringField(head, "message"),
		}
	}

	if list, ok := raw["commits"].([]interface{}); ok {
		event.commits = make([]Commit, 0, len(list))
		for _, item := range list {
			object, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			commit := Commit{
				ID:      stringField(object, "id"),
				Message: stringField(object, "message"),
			}
			if author, ok := objectField(object, "author"); ok {
				commit.Author = CommitAuthor{
					Name:     stringField(author, "name"),
					Username: stringField(author, "username"),
					Email:    stringField(author, "email"),
				}
			}
			event.commits = append(event.commits, commit)
		}
	}

	return event, nil
}

func stringField(object map[string]interface{}, key string) string {
	value, _ := object[key].(string)
	return value
}

func boolField(object map[string]interface{}, key string) bool {
	value, _ := object[key].(bool)
	return value
}

func objectField(object map[string]interface{}, key string) (map[string]interface{}, bool) {
	value, ok := object[key].(map[string]interface{})
	return value, ok
}

package internal

import "testing"

// TestFlattenNestedAndArray tests that a push payload with commits is flattened correctly.
func TestFlattenNestedAndArray(t *testing.T) {
	input := map[string]interface{}{
		"repository": map[string]interface{}{
			"full_name": "acme/api",
			"owner":     map[string]interface{}{"login": "acme"},
		},
		"commits": []interface{}{
			map[string]interface{}{"distinct": true},
			map[string]interface{}{"distinct": false},
		},
	}

	flat := Flatten(input)
	if flat["repository.full_name"] != "acme/api" {
		t.Fatalf("expected repository.full_name, got %v", flat["repository.full_name"])
	}
	if flat["repository.owner.login"] != "acme" {
		t.Fatalf("expected nested owner login")
	}
	if _, ok := flat["commits[]"]; !ok {
		t.Fatalf("expected commits[] to exist")
	}
	if flat["commits[0].distinct"] != true {
		t.Fatalf("expected commits[0].distinct to be true")
	}
	if flat["commits[1].distinct"] != false {
		t.Fatalf("expected commits[1].distinct to be false")
	}
}

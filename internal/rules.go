package internal

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/Knetic/govaluate"
	"github.com/PaesslerAG/jsonpath"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Rule routes matching events to one or more topics.
type Rule struct {
	When    string   `yaml:"when"`
	Emit    EmitList `yaml:"emit"`
	Drivers []string `yaml:"drivers"`
}

// EmitList accepts either a single topic or a list of topics in YAML.
type EmitList []string

func (e *EmitList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var topic string
		if err := value.Decode(&topic); err != nil {
			return err
		}
		*e = EmitList{topic}
		return nil
	case yaml.SequenceNode:
		var topics []string
		if err := value.Decode(&topics); err != nil {
			return err
		}
		*e = EmitList(topics)
		return nil
	default:
		return fmt.Errorf("emit must be a string or a list of strings")
	}
}

// RuleMatch is a topic selected by a rule, with the drivers it should be
// published to. Empty Drivers means all configured drivers.
type RuleMatch struct {
	Topic   string
	Drivers []string
}

type compiledRule struct {
	emit    EmitList
	drivers []string
	expr    *govaluate.EvaluableExpression
	params  map[string]string
}

// RuleEngine evaluates routing rules against webhook payloads.
type RuleEngine struct {
	rules  []compiledRule
	strict bool
}

var ruleFunctions = map[string]govaluate.ExpressionFunction{
	"contains": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("contains expects 2 arguments")
		}
		return containsValue(args[0], args[1]), nil
	},
	"like": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("like expects 2 arguments")
		}
		value, _ := args[0].(string)
		pattern, _ := args[1].(string)
		return likeMatch(value, pattern), nil
	},
	"matches": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("matches expects 2 arguments")
		}
		value, _ := args[0].(string)
		pattern, _ := args[1].(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return re.MatchString(value), nil
	},
}

// NewRuleEngine compiles cfg.
func NewRuleEngine(cfg RulesConfig) (*RuleEngine, error) {
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		rewritten, params := rewriteExpression(rule.When)
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(rewritten, ruleFunctions)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, compiledRule{
			emit:    rule.Emit,
			drivers: rule.Drivers,
			expr:    expr,
			params:  params,
		})
	}
	return &RuleEngine{rules: rules, strict: cfg.Strict}, nil
}

// Empty reports whether no rules are configured.
func (r *RuleEngine) Empty() bool {
	return r == nil || len(r.rules) == 0
}

// Evaluate returns the topics event should be published to.
func (r *RuleEngine) Evaluate(event Event) []RuleMatch {
	return r.EvaluateWithLogger(event, nil)
}

// EvaluateWithLogger is Evaluate with rule failures logged to logger.
func (r *RuleEngine) EvaluateWithLogger(event Event, logger *zap.Logger) []RuleMatch {
	if r.Empty() {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	data, object := eventDocument(event)

	matches := make([]RuleMatch, 0, 1)
	for i, rule := range r.rules {
		params := make(map[string]interface{}, len(rule.params))
		missing := ""
		for name, path := range rule.params {
			value, ok := resolvePath(path, data, object)
			if !ok && missing == "" {
				missing = path
			}
			params[name] = value
		}
		if missing != "" && r.strict {
			logger.Warn("rule skipped, field missing", zap.Int("rule", i), zap.String("field", missing))
			continue
		}
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			if r.strict {
				logger.Warn("rule eval failed", zap.Int("rule", i), zap.Error(err))
			} else {
				logger.Debug("rule eval failed", zap.Int("rule", i), zap.Error(err))
			}
			continue
		}
		if ok, _ := result.(bool); !ok {
			continue
		}
		for _, topic := range rule.emit {
			matches = append(matches, RuleMatch{Topic: topic, Drivers: rule.drivers})
		}
	}
	return matches
}

func eventDocument(event Event) (map[string]interface{}, interface{}) {
	data := event.Data
	object := event.RawObject
	if object == nil && len(event.RawPayload) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(event.RawPayload, &decoded); err == nil {
			object = decoded
		}
	}
	if data == nil {
		if asMap, ok := object.(map[string]interface{}); ok {
			data = Flatten(asMap)
		} else {
			data = map[string]interface{}{}
		}
	}
	return data, object
}

func resolvePath(path string, data map[string]interface{}, object interface{}) (interface{}, bool) {
	if strings.HasPrefix(path, "$") {
		if object == nil {
			return nil, false
		}
		value, err := jsonpath.Get(path, object)
		if err != nil {
			return nil, false
		}
		return value, true
	}
	value, ok := data[path]
	return value, ok
}

// rewriteExpression replaces payload references with generated parameter
// names so that dotted and indexed paths survive govaluate's lexer. Bare
// paths (repository.full_name, commits[0].id), escaped variables
// ([repository.full_name]) and JSONPath ($.commits[0].id) are all supported.
func rewriteExpression(expr string) (string, map[string]string) {
	params := make(map[string]string)
	byPath := make(map[string]string)
	placeholder := func(path string) string {
		if name, ok := byPath[path]; ok {
			return name
		}
		name := fmt.Sprintf("param%d", len(byPath))
		byPath[path] = name
		params[name] = path
		return name
	}

	var out strings.Builder
	runes := []rune(expr)
	for i := 0; i < len(runes); {
		ch := runes[i]
		switch {
		case ch == '"' || ch == '\'':
			j := i + 1
			for j < len(runes) && runes[j] != ch {
				if runes[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(runes) {
				j++
			}
			out.WriteString(string(runes[i:j]))
			i = j
		case ch == '$':
			j := i + 1
			for j < len(runes) && isJSONPathRune(runes[j]) {
				j++
			}
			out.WriteString(placeholder(string(runes[i:j])))
			i = j
		case ch == '[':
			j := i + 1
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			path := strings.TrimSpace(string(runes[i+1 : j]))
			if j < len(runes) {
				j++
			}
			out.WriteString(placeholder(path))
			i = j
		case unicode.IsLetter(ch) || ch == '_':
			j := readPath(runes, i)
			token := string(runes[i:j])
			if isKeyword(token) || nextNonSpace(runes, j) == '(' {
				out.WriteString(token)
			} else {
				out.WriteString(placeholder(token))
			}
			i = j
		default:
			out.WriteRune(ch)
			i++
		}
	}
	return out.String(), params
}

func readPath(runes []rune, i int) int {
	j := readIdent(runes, i)
	for j < len(runes) {
		switch {
		case runes[j] == '.' && j+1 < len(runes) && (unicode.IsLetter(runes[j+1]) || runes[j+1] == '_'):
			j = readIdent(runes, j+1)
		case runes[j] == '[':
			k := j + 1
			for k < len(runes) && unicode.IsDigit(runes[k]) {
				k++
			}
			if k == j+1 || k >= len(runes) || runes[k] != ']' {
				return j
			}
			j = k + 1
		default:
			return j
		}
	}
	return j
}

func readIdent(runes []rune, i int) int {
	j := i
	for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
		j++
	}
	return j
}

func nextNonSpace(runes []rune, i int) rune {
	for i < len(runes) {
		if !unicode.IsSpace(runes[i]) {
			return runes[i]
		}
		i++
	}
	return 0
}

func isJSONPathRune(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || strings.ContainsRune("_.[]*-", ch)
}

func isKeyword(token string) bool {
	switch strings.ToLower(token) {
	case "true", "false", "in":
		return true
	default:
		return false
	}
}

func containsValue(collection, item interface{}) bool {
	switch typed := collection.(type) {
	case nil:
		return false
	case string:
		needle, ok := item.(string)
		return ok && strings.Contains(typed, needle)
	case []interface{}:
		for _, value := range typed {
			if reflect.DeepEqual(value, item) {
				return true
			}
		}
		return false
	case []string:
		needle, ok := item.(string)
		if !ok {
			return false
		}
		for _, value := range typed {
			if value == needle {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// likeMatch implements SQL LIKE with % and _ wildcards.
func likeMatch(value, pattern string) bool {
	var re strings.Builder
	re.WriteString("^")
	for _, ch := range pattern {
		switch ch {
		case '%':
			re.WriteString(".*")
		case '_':
			re.WriteString(".")
		default:
			re.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	re.WriteString("$")
	matched, err := regexp.MatchString(re.String(), value)
	return err == nil && matched
}

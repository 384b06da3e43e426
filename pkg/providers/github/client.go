package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"taskhooks/pkg/storage"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Config selects how the issue client authenticates. An installation id on
// the request uses the app; otherwise Token is used.
type Config struct {
	Token   string
	App     AppConfig
	BaseURL string
}

// IssueRequest describes an issue to open.
type IssueRequest struct {
	Repository     string
	InstallationID int64
	Title          string
	Body           string
	Labels         []string
}

// Issue is the created issue.
type Issue struct {
	Number int
	URL    string
}

// IssueClient opens issues on GitHub or GitHub Enterprise.
type IssueClient struct {
	token   string
	app     *appAuthenticator
	baseURL string
	logger  *zap.Logger
}

// NewIssueClient validates cfg and returns a client.
func NewIssueClient(cfg Config, logger *zap.Logger) (*IssueClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &IssueClient{
		token:   strings.TrimSpace(cfg.Token),
		baseURL: normalizeBaseURL(cfg.BaseURL),
		logger:  logger,
	}
	if cfg.App.Enabled() {
		appCfg := cfg.App
		if appCfg.BaseURL == "" {
			appCfg.BaseURL = client.baseURL
		}
		client.app = newAppAuthenticator(appCfg)
	}
	if client.token == "" && client.app == nil {
		return nil, errors.New("github token or app credentials are required")
	}
	return client, nil
}

// CreateIssue opens an issue in req.Repository ("owner/name").
func (c *IssueClient) CreateIssue(ctx context.Context, req IssueRequest) (*Issue, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(req.Repository), "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("invalid github repository %q", req.Repository)
	}
	client, err := c.restClient(ctx, req.InstallationID)
	if err != nil {
		return nil, err
	}
	issueReq := &gh.IssueRequest{
		Title: gh.String(req.Title),
		Body:  gh.String(req.Body),
	}
	if len(req.Labels) > 0 {
		labels := append([]string(nil), req.Labels...)
		issueReq.Labels = &labels
	}
	issue, _, err := client.Issues.Create(ctx, owner, repo, issueReq)
	if err != nil {
		return nil, fmt.Errorf("create issue in %s: %w", req.Repository, err)
	}
	c.logger.Info("created github issue",
		zap.String("repository", req.Repository),
		zap.Int("number", issue.GetNumber()),
	)
	return &Issue{Number: issue.GetNumber(), URL: issue.GetHTMLURL()}, nil
}

// CreateTaskIssue mirrors a task into the service's repository.
func (c *IssueClient) CreateTaskIssue(ctx context.Context, service storage.Service, task storage.Task) (int, string, error) {
	if service.GitHubRepo == "" {
		return 0, "", errors.New("service has no github repository")
	}
	body := task.Description
	if body != "" {
		body += "\n\n"
	}
	body += fmt.Sprintf("Tracked as %s.", task.TaskID)

	issue, err := c.CreateIssue(ctx, IssueRequest{
		Repository:     service.GitHubRepo,
		InstallationID: service.GitHubInstallationID,
		Title:          fmt.Sprintf("[%s] %s", task.TaskID, task.Title),
		Body:           body,
		Labels:         task.Labels,
	})
	if err != nil {
		return 0, "", err
	}
	return issue.Number, issue.URL, nil
}

func (c *IssueClient) restClient(ctx context.Context, installationID int64) (*gh.Client, error) {
	var token string
	switch {
	case installationID != 0 && c.app != nil:
		installationToken, err := c.app.installationToken(ctx, installationID)
		if err != nil {
			return nil, err
		}
		token = installationToken
	case c.token != "":
		token = c.token
	default:
		return nil, errors.New("no github credentials for this repository")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return newRESTClient(c.baseURL, oauth2.NewClient(ctx, ts))
}

func newRESTClient(baseURL string, httpClient *http.Client) (*gh.Client, error) {
	baseURL = normalizeBaseURL(baseURL)
	if baseURL != defaultBaseURL {
		return gh.NewEnterpriseClient(baseURL, baseURL, httpClient)
	}
	return gh.NewClient(httpClient), nil
}

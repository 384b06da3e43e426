package internal

import "expvar"

var (
	requestsTotal         = expvar.NewMap("taskhooks_requests_total")
	signatureFailures     = expvar.NewMap("taskhooks_signature_failures_total")
	parseErrors           = expvar.NewMap("taskhooks_parse_errors_total")
	normalizationFailures = expvar.NewMap("taskhooks_normalization_failures_total")
	publishErrors         = expvar.NewMap("taskhooks_publish_errors_total")
	tasksCreated          = expvar.NewMap("taskhooks_tasks_created_total")
	activitiesRecorded    = expvar.NewMap("taskhooks_activities_recorded_total")
	issueFailures         = expvar.NewMap("taskhooks_github_issue_failures_total")
)

func IncRequest(provider string) {
	requestsTotal.Add(provider, 1)
}

func IncSignatureFailure(provider string) {
	signatureFailures.Add(provider, 1)
}

func IncParseError(provider string) {
	parseErrors.Add(provider, 1)
}

func IncNormalizationFailure(provider string) {
	normalizationFailures.Add(provider, 1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}

func IncTaskCreated(organization string) {
	tasksCreated.Add(organization, 1)
}

func IncActivityRecorded(repository string) {
	activitiesRecorded.Add(repository, 1)
}

func IncIssueFailure(repository string) {
	issueFailures.Add(repository, 1)
}

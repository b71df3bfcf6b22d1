package common

import "github.com/prometheus/client_golang/prometheus"

const (
	HTTPRequestTotal           = "http_requests_total"
	HTTPRequestDurationSeconds = "http_request_duration_seconds"
	ClaimSubmissionTotal       = "claim_submission_total"
	ClaimOutcomeTotal          = "claim_outcome_total"
	ChallengePollTotal         = "challenge_poll_total"
	DisbursementDetectedTotal  = "disbursement_detected_total"
)

var (
	PromCounters = map[string]*prometheus.CounterVec{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: HTTPRequestTotal,
			Help: "Count of all HTTP requests",
		}, []string{"path", "status_code"}),
		ClaimSubmissionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: ClaimSubmissionTotal,
			Help: "Count of attestation claim submissions",
		}, []string{"challenge_id"}),
		ClaimOutcomeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: ClaimOutcomeTotal,
			Help: "Count of terminal claim outcomes by status and failure reason",
		}, []string{"status", "reason"}),
		ChallengePollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: ChallengePollTotal,
			Help: "Count of challenge poll cycles",
		}, []string{"result"}),
		DisbursementDetectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: DisbursementDetectedTotal,
			Help: "Count of disbursements detected by the poller",
		}, []string{"challenge_id"}),
	}

	PromHistograms = map[string]*prometheus.HistogramVec{
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: HTTPRequestDurationSeconds,
			Help: "Duration of all HTTP requests",
		}, []string{"path", "status_code"}),
	}
)

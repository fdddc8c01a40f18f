package http

const (
	Ping    = "Ping"
	Version = "Version"
	Webhook = "Webhook"

	ListServices = "ListServices"
	ListRuns     = "ListRuns"
	RunStatus    = "RunStatus"
	RunEvents    = "RunEvents"
	Promote      = "Promote"
	Abort        = "Abort"
)

// These are served by the daemon outside the versioned API, for
// probes and scraping.
const (
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

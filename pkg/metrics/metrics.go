package metrics

/*
Labels and so on for metrics used in conveyor.
*/

const (
	LabelMethod  = "method"
	LabelRoute   = "route"
	LabelSuccess = "success"

	// Labels for pipeline metrics
	LabelStage       = "stage"
	LabelTrigger     = "trigger"
	LabelStatus      = "status"
	LabelEnvironment = "environment"
	LabelOperation   = "operation"
)

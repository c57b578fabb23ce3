package cierrors

// Convenience constructors for common error patterns.

// Matrix configuration errors. These are fatal to the whole run and are
// surfaced before any lane executes.

func EmptyMatrix() *PipelineError {
	return New(CategoryConfig, SeverityFatal, "matrix has no axes or entries; nothing to run")
}

func DuplicateLane(axis, label string) *PipelineError {
	return New(CategoryConfig, SeverityFatal, "duplicate entry label within axis").
		WithContext("axis", axis).
		WithContext("label", label)
}

func DuplicateVariable(name, firstAxis, secondAxis string) *PipelineError {
	return New(CategoryConfig, SeverityFatal, "variable bound by more than one axis").
		WithContext("variable", name).
		WithContext("first_axis", firstAxis).
		WithContext("second_axis", secondAxis)
}

func ConfigRequired(field string) *PipelineError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

func ValidationFailed(field, reason string) *PipelineError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Lane-scoped errors.

func ProvisionFailed(lane string, cause error) *PipelineError {
	return WrapRetryable(cause, CategoryProvision, SeverityError, "toolchain provisioning failed").
		WithContext("lane", lane)
}

func CheckoutFailed(lane string, cause error) *PipelineError {
	return WrapRetryable(cause, CategoryCheckout, SeverityError, "source checkout failed").
		WithContext("lane", lane)
}

func StageFailed(lane, stage string, exitCode int) *PipelineError {
	return New(CategoryStage, SeverityError, "stage exited non-zero").
		WithContext("lane", lane).
		WithContext("stage", stage).
		WithContext("exit_code", exitCode)
}

// InfrastructureFailure tags worker/spawn/timeout failures so retries, if
// configured, apply to them and never to genuine stage failures.
func InfrastructureFailure(lane string, cause error) *PipelineError {
	return WrapRetryable(cause, CategoryInfrastructure, SeverityError, "infrastructure failure").
		WithContext("lane", lane)
}

func InternalError(message string, cause error) *PipelineError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}

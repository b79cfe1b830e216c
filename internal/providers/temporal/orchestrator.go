package temporal

import (
	"context"
	"errors"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
)

// TemporalOrchestrator starts workflow executions. client.Client satisfies it.
//
//go:generate mockgen -source=orchestrator.go -destination=../../mocks/temporal_orchestrator.go -package=mocks -mock_names=TemporalOrchestrator=MockTemporalOrchestrator
type TemporalOrchestrator interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// StartOnce starts a workflow whose id identifies the work it does.
// An execution that already exists under the same id counts as started.
func StartOnce(ctx context.Context, orchestrator TemporalOrchestrator, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (started bool, err error) {
	_, err = orchestrator.ExecuteWorkflow(ctx, options, workflow, args...)
	if err == nil {
		return true, nil
	}
	if IsAlreadyStarted(err) {
		return false, nil
	}
	return false, err
}

// IsAlreadyStarted reports whether err means a workflow with the same id is running or has completed
func IsAlreadyStarted(err error) bool {
	var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
	return errors.As(err, &alreadyStarted)
}

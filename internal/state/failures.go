package state

import (
	"context"
	"errors"

	"brickflow/internal/brick"
	"brickflow/internal/core"
	"brickflow/internal/dag"
)

// FailureFromError classifies err into the ledger's failure taxonomy.
//
// Template and binding problems are graph failures, unreadable files are
// workspace failures, failed work callbacks are execution failures and
// everything else is a system failure.
func FailureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	var wce *dag.WorkCallbackError
	switch {
	case errors.Is(err, brick.ErrTemplate):
		return Failure{FailureClass: FailureClassGraph, ErrorCode: "TemplateInvalid", ErrorMessage: err.Error()}, nil
	case errors.Is(err, dag.ErrBindingCycle):
		return Failure{FailureClass: FailureClassGraph, ErrorCode: "BindingCycle", ErrorMessage: err.Error()}, nil
	case errors.Is(err, dag.ErrBinding):
		return Failure{FailureClass: FailureClassGraph, ErrorCode: "BindingInvalid", ErrorMessage: err.Error()}, nil
	case errors.As(err, &wce):
		return Failure{
			FailureClass: FailureClassExecution,
			NodeID:       nodePtr(wce.Node),
			ErrorCode:    "WorkCallbackFailed",
			ErrorMessage: err.Error(),
		}, nil
	case errors.Is(err, core.ErrUnreadableArtifact):
		f := Failure{FailureClass: FailureClassWorkspace, ErrorCode: "UnreadableArtifact", ErrorMessage: err.Error()}
		var ua *core.UnreadableArtifactError
		if errors.As(err, &ua) {
			f.NodeID = nodePtr(ua.Slot.Node)
		}
		return f, nil
	case errors.Is(err, dag.ErrSchedulingInvariant):
		return Failure{FailureClass: FailureClassSystem, ErrorCode: "SchedulingInvariant", ErrorMessage: err.Error()}, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Failure{FailureClass: FailureClassSystem, ErrorCode: "Cancelled", ErrorMessage: err.Error()}, nil
	}
	return Failure{
		FailureClass: FailureClassSystem,
		ErrorCode:    "UnknownError",
		ErrorMessage: err.Error(),
	}, nil
}

func nodePtr(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

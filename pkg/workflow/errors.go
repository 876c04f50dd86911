// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	pkgerrors "github.com/tombee/conductor/pkg/errors"
)

// ErrExecutionNotFound builds the NotFoundError the Store returns for an
// unknown execution id.
func ErrExecutionNotFound(executionID string) error {
	return &pkgerrors.NotFoundError{Resource: "execution", ID: executionID}
}

// ErrWorkflowNotFound builds the NotFoundError the Registry/Engine return
// for an unknown or disabled workflow id.
func ErrWorkflowNotFound(workflowID string) error {
	return &pkgerrors.NotFoundError{Resource: "workflow", ID: workflowID}
}

// ErrDefinitionInvalid builds the DefinitionError returned by Validate.
func ErrDefinitionInvalid(workflowID string, reasons []string) error {
	return &pkgerrors.DefinitionError{WorkflowID: workflowID, Reasons: reasons}
}

// ErrHandlerMissing builds the HandlerMissingError a step with an
// unregistered type fails with.
func ErrHandlerMissing(stepID, stepType string) error {
	return &pkgerrors.HandlerMissingError{StepID: stepID, StepType: stepType}
}

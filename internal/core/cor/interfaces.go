// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cor (Chain of Responsibility) is the workflow framework used by the
// job pipeline. A workflow is a Chain of Commands sharing a single Context;
// each command reads its input from the context, does one unit of work, and
// writes its output back for the next command. The interfaces here keep
// commands, chains, and contexts interchangeable so pipelines can be assembled
// and tested piecewise.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CtxIn and CtxOut are the reserved context keys that carry the primary data
// flow between adjacent commands in a chain.
const (
	// CtxIn is the default input key. A chain places the previous command's
	// output under this key before running the next command.
	CtxIn = "__IN__"
	// CtxOut is the default output key. A command stores its primary result
	// here; the chain picks it up and pipes it forward.
	CtxOut = "__OUT__"
)

// Context is the shared state for one workflow execution. It carries data
// between commands, collects per-command errors, tracks temp files for
// cleanup, and holds the request-scoped Go context.
type Context interface {
	// SetContext sets the Go context used for cancellation, deadlines, and
	// trace propagation.
	SetContext(context context.Context)

	// GetContext returns the current Go context.
	GetContext() context.Context

	// Add stores a key-value pair. Returns the Context for fluent chaining.
	Add(key string, value interface{}) Context

	// AddError records an error, keyed by the name of the command that
	// produced it.
	AddError(key string, err error)

	// GetErrors returns all errors recorded so far.
	GetErrors() map[string]error

	// Get returns the value stored under key, or nil.
	Get(key string) interface{}

	// Remove deletes the value stored under key.
	Remove(key string)

	// HasErrors reports whether any command has recorded an error.
	HasErrors() bool

	// Abort stops the chain after the current command without recording an
	// error. Used when another writer has taken over the workflow and this
	// execution must stand down quietly.
	Abort(reason string)

	// IsAborted reports whether Abort has been called.
	IsAborted() bool

	// AbortReason returns the reason passed to Abort, or "".
	AbortReason() string

	// AddTempFile registers a temp file to be deleted by Close.
	AddTempFile(file string)

	// GetTempFiles returns all registered temp file paths.
	GetTempFiles() []string

	// Close deletes registered temp files. Defer it when creating a context.
	Close()
}

// Executable is anything with a single unit of execution logic.
type Executable interface {
	// Execute runs the work, reading inputs from and writing outputs to the
	// shared context.
	Execute(context Context)
}

// Command is an atomic, thread-safe unit of work within a chain.
type Command interface {
	Executable

	// GetName returns the command's name, used in logs, spans, and the
	// context error map.
	GetName() string

	// GetInputParam returns the context key the command reads its primary
	// input from.
	GetInputParam() string

	// GetOutputParam returns the context key the command writes its primary
	// output to.
	GetOutputParam() string

	// IsExecutable reports whether the command can run against the current
	// context state. A false return skips the command without error.
	IsExecutable(context Context) bool

	// GetTracer returns the command's OpenTelemetry tracer.
	GetTracer() trace.Tracer

	// GetMeter returns the command's OpenTelemetry meter.
	GetMeter() metric.Meter

	// GetSuccessCounter returns the counter incremented on success.
	GetSuccessCounter() metric.Int64Counter

	// GetErrorCounter returns the counter incremented on failure.
	GetErrorCounter() metric.Int64Counter
}

// Chain is an ordered sequence of commands. A Chain is itself a Command, so
// chains nest.
type Chain interface {
	Command

	// ContinueOnFailure configures whether the chain keeps running commands
	// after one of them records an error. Default is to stop.
	ContinueOnFailure(bool) Chain

	// AddCommand appends a command to the execution sequence.
	AddCommand(command Command) Chain
}

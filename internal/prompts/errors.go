// Package prompts renders the prompts storyloom sends to providers. Prompts
// are text/template files embedded at compile time.
package prompts

import "errors"

var (
	// ErrTemplateNotFound indicates the requested template doesn't exist.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplateExecution indicates a failure during template execution.
	ErrTemplateExecution = errors.New("template execution failed")

	// ErrInvalidData indicates the data doesn't match the prompt's type.
	ErrInvalidData = errors.New("invalid data type for template")
)

package prompts

import (
	"bytes"
	"errors"
	"fmt"
)

// Render executes a prompt template with data. The data type must match
// the prompt: GenerateData for Generate, JudgeData for Judge.
//
//	prompt, err := prompts.Render(prompts.Judge, prompts.JudgeData{
//	    Category: "chapter_content",
//	    Genre:    "noir",
//	    Criteria: criteria,
//	    Brief:    goal.Summary(),
//	    Content:  draft,
//	})
func Render(id PromptID, data any) (string, error) {
	if err := ValidateData(id, data); err != nil {
		return "", err
	}
	tmpl, err := globalRegistry.get(id)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Join(ErrTemplateExecution, fmt.Errorf("prompt %s: %w", id, err))
	}
	return buf.String(), nil
}

// MustRender executes a prompt template and panics on error. Use it only
// with data built in code, where a failure is a programming error.
func MustRender(id PromptID, data any) string {
	result, err := Render(id, data)
	if err != nil {
		panic(fmt.Sprintf("prompts.MustRender(%s): %v", id, err))
	}
	return result
}

// List returns all registered prompt IDs.
func List() []PromptID {
	return globalRegistry.list()
}

// Exists checks if a prompt ID is registered.
func Exists(id PromptID) bool {
	_, err := globalRegistry.get(id)
	return err == nil
}

// GetTemplate returns the raw template source for a prompt ID.
func GetTemplate(id PromptID) (string, error) {
	return globalRegistry.getSource(id)
}

// ValidateData checks that data has the type the prompt expects.
func ValidateData(id PromptID, data any) error {
	switch id {
	case Generate:
		if _, ok := data.(GenerateData); !ok {
			return fmt.Errorf("%w: expected GenerateData, got %T", ErrInvalidData, data)
		}
	case Judge:
		if _, ok := data.(JudgeData); !ok {
			return fmt.Errorf("%w: expected JudgeData, got %T", ErrInvalidData, data)
		}
	}
	return nil
}

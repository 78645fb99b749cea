package tools

import (
	"fmt"
	"strings"
)

// Status is "Success" or "Failure".
func (r Result) Status() string {
	if r.Success {
		return "Success"
	}
	return "Failure"
}

// ToolOutput 构造回传给模型的合成用户消息
// ToolOutput builds the synthetic user message that feeds a remote result
// back into the conversation.
func ToolOutput(subject string, r Result) string {
	output := r.Output
	if output == "" {
		output = r.Content
	}
	return fmt.Sprintf("TOOL_OUTPUT: %s Status: %s Output: %s Error: %s",
		strings.TrimSpace(subject), r.Status(), output, r.Error)
}

// Failure wraps err as a failed result.
func Failure(err error) Result {
	if err == nil {
		return Result{Success: false}
	}
	return Result{Success: false, Error: err.Error()}
}

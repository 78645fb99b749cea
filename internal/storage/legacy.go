package storage

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"deskagent/internal/chat"
)

// 旧版行的角色名 / role names used by flat legacy rows
const (
	legacyRoleUser  = "user"
	legacyRoleModel = "model"
	legacyRoleTool  = "tool"
)

// NormalizeLegacy 将旧格式（content/image_base64 扁平列）转换为 parts
// NormalizeLegacy converts a flat legacy row into the role and parts a new
// turn would carry. It is the single place legacy shapes are understood.
func NormalizeLegacy(role, content, imageBase64 string) (chat.Role, []chat.Part) {
	switch strings.TrimSpace(role) {
	case legacyRoleTool, string(chat.RoleFunction):
		if res, ok := legacyFunctionResponse(content); ok {
			return chat.RoleFunction, []chat.Part{res}
		}
		return chat.RoleFunction, []chat.Part{chat.ResultPart("tool", content, "")}
	case legacyRoleModel:
		if call, ok := legacyActionCall(content); ok {
			return chat.RoleModel, []chat.Part{call}
		}
		return chat.RoleModel, textParts(content)
	default:
		parts := textParts(content)
		if imageBase64 != "" {
			if data, err := base64.StdEncoding.DecodeString(stripDataURL(imageBase64)); err == nil && len(data) > 0 {
				parts = append(parts, chat.MediaPart(data, "image/png"))
			}
		}
		return chat.RoleUser, parts
	}
}

func textParts(content string) []chat.Part {
	if content == "" {
		return []chat.Part{}
	}
	return []chat.Part{chat.TextPart(content)}
}

func legacyActionCall(content string) (chat.Part, bool) {
	body := strings.TrimSpace(content)
	if !strings.HasPrefix(body, "{") {
		return chat.Part{}, false
	}
	var env struct {
		Action     string         `json:"action"`
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(body), &env); err != nil || strings.TrimSpace(env.Action) == "" {
		return chat.Part{}, false
	}
	if env.Parameters == nil {
		env.Parameters = map[string]any{}
	}
	return chat.CallPart(env.Action, env.Parameters), true
}

func legacyFunctionResponse(content string) (chat.Part, bool) {
	var wrapper struct {
		FunctionResponse *struct {
			Name     string          `json:"name"`
			Response json.RawMessage `json:"response"`
		} `json:"functionResponse"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &wrapper); err != nil || wrapper.FunctionResponse == nil {
		return chat.Part{}, false
	}
	fr := wrapper.FunctionResponse
	name := fr.Name
	if name == "" {
		name = "tool"
	}

	var obj struct {
		Success *bool  `json:"success"`
		Output  string `json:"output"`
		Content string `json:"content"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(fr.Response, &obj); err == nil && (obj.Success != nil || obj.Output != "" || obj.Content != "" || obj.Error != "") {
		out := obj.Output
		if out == "" {
			out = obj.Content
		}
		return chat.ResultPart(name, out, obj.Error), true
	}
	var s string
	if err := json.Unmarshal(fr.Response, &s); err == nil {
		return chat.ResultPart(name, s, ""), true
	}
	return chat.ResultPart(name, string(fr.Response), ""), true
}

func stripDataURL(v string) string {
	if i := strings.Index(v, ";base64,"); i >= 0 && strings.HasPrefix(v, "data:") {
		return v[i+len(";base64,"):]
	}
	return v
}

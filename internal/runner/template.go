package runner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/shaiso/autonet/internal/domain"
)

// Ошибки шаблонов.
var (
	ErrTemplateParse  = errors.New("template parse error")
	ErrTemplateRender = errors.New("template render error")
)

// Context — данные, доступные в шаблонах config job'а:
//
//	{{ .Device.Name }}, {{ .Device.IPAddress }}
//	{{ .Payload.vlan }}
//	{{ .Results.backup.Success }}, {{ .Results.backup.Result }}
//	{{ .Env.REGION }}
type Context struct {
	Device  *domain.Device        `json:"device"`
	Payload map[string]any        `json:"payload"`
	Results map[string]*JobResult `json:"results"`
	Env     map[string]string     `json:"env"`
}

// JobResult — результат предыдущего job'а для шаблонов.
type JobResult struct {
	Success bool `json:"success"`
	Result  any  `json:"result"`
}

// NewContext создаёт контекст для устройства.
func NewContext(device *domain.Device, payload map[string]any) *Context {
	if payload == nil {
		payload = make(map[string]any)
	}
	if device == nil {
		device = &domain.Device{}
	}
	return &Context{
		Device:  device,
		Payload: payload,
		Results: make(map[string]*JobResult),
		Env:     make(map[string]string),
	}
}

// AddResult делает результат job'а доступным как .Results.<job>.
// Для результатов по устройствам берётся запись текущего устройства.
func (c *Context) AddResult(job string, res *domain.Result) {
	if res == nil {
		return
	}
	value := res.Result
	if perDevice, ok := value.(map[string]*domain.Result); ok {
		if own, ok := perDevice[c.Device.Name]; ok {
			c.Results[job] = &JobResult{Success: own.Success, Result: own.Result}
			return
		}
	}
	c.Results[job] = &JobResult{Success: res.Success, Result: value}
}

var templateFuncs = template.FuncMap{
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},
	"fromJSON": func(s string) any {
		var result any
		if err := json.Unmarshal([]byte(s), &result); err != nil {
			return nil
		}
		return result
	},
	// default — значение по умолчанию для пустого аргумента
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},
	"join":      func(sep string, items []string) string { return strings.Join(items, sep) },
	"split":     func(sep, s string) []string { return strings.Split(s, sep) },
	"contains":  strings.Contains,
	"hasPrefix": strings.HasPrefix,
	"lower":     strings.ToLower,
	"upper":     strings.ToUpper,
	"trim":      strings.TrimSpace,
	"replace":   strings.ReplaceAll,
}

// Render рендерит строковый шаблон.
func Render(tmpl string, ctx *Context) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}
	return buf.String(), nil
}

// RenderValue рекурсивно рендерит строки внутри map и slice.
func RenderValue(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return Render(v, ctx)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		return value, nil
	}
}

// RenderConfig рендерит config job'а. Ключ "when" не рендерится:
// это условие, его вычисляет RenderCondition.
func RenderConfig(config map[string]any, ctx *Context) (map[string]any, error) {
	result := make(map[string]any, len(config))
	for key, val := range config {
		if key == whenKey {
			continue
		}
		rendered, err := RenderValue(val, ctx)
		if err != nil {
			return nil, fmt.Errorf("config %q: %w", key, err)
		}
		result[key] = rendered
	}
	return result, nil
}

// RenderCondition вычисляет условие. Пустое условие истинно.
func RenderCondition(condition string, ctx *Context) (bool, error) {
	if condition == "" {
		return true, nil
	}

	result, err := Render(fmt.Sprintf(`{{if %s}}true{{else}}false{{end}}`, condition), ctx)
	if err != nil {
		return false, err
	}
	return result == "true", nil
}

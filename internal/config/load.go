package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix 为环境变量前缀。
const EnvPrefix = "HTMLDEDUP_"

// DefaultPreset 为未显式声明 Passes 时使用的预设。
const DefaultPreset = "landing-page"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：Inputs 不设默认（必须由配置/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Preset:  DefaultPreset,
		Logging: Logging{Level: "info", Format: "json", Dir: "logs"},
		Components: Components{
			Reader: "fs",
			Writer: "fs",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadYAML 解析 YAML 配置：先转为 JSON，再走与 LoadJSON 相同的严格解码。
func LoadYAML(path string, raw []byte) (Config, error) {
	if len(raw) == 0 {
		if path == "" {
			return Config{}, errors.New("no config source provided")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		raw = b
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		return Config{}, nil
	}
	norm, err := normalizeYAML(doc)
	if err != nil {
		return Config{}, err
	}
	js, err := json.Marshal(norm)
	if err != nil {
		return Config{}, fmt.Errorf("yaml to json: %w", err)
	}
	return LoadJSON("", js)
}

// LoadFile 按扩展名选择解析器：.yaml/.yml 为 YAML，其余为 JSON。
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path, nil)
	default:
		return LoadJSON(path, nil)
	}
}

// normalizeYAML 将 map[any]any 递归转为 map[string]any，以便 JSON 编码。
func normalizeYAML(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			nv, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("yaml: non-string key %v", k)
			}
			nv, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			out[ks] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			nv, err := normalizeYAML(val)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return v, nil
	}
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。布尔开关只能由后者打开。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if over.DryRun {
		out.DryRun = true
	}
	if over.Strict {
		out.Strict = true
	}
	if over.AuditIDs {
		out.AuditIDs = true
	}
	if p := strings.TrimSpace(over.Preset); p != "" {
		out.Preset = p
	}
	if len(over.Passes) > 0 {
		out.Passes = clonePasses(over.Passes)
	}

	if v := strings.TrimSpace(over.Logging.Level); v != "" {
		out.Logging.Level = v
	}
	if v := strings.TrimSpace(over.Logging.Format); v != "" {
		out.Logging.Format = v
	}
	if v := strings.TrimSpace(over.Logging.Dir); v != "" {
		out.Logging.Dir = v
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}

	if v := strings.TrimSpace(over.Ledger.Path); v != "" {
		out.Ledger.Path = v
	}
	if v := strings.TrimSpace(over.Report); v != "" {
		out.Report = v
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 前缀 HTMLDEDUP_；集合之外的键忽略。
// 支持：INPUTS, PRESET, DRY_RUN, STRICT, AUDIT_IDS, LOG_LEVEL, LOG_FORMAT, LOG_DIR,
// COMPONENTS_{READER,WRITER}, OPTIONS_{READER,WRITER}_JSON, PASSES_JSON, LEDGER, REPORT。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := kv[len(EnvPrefix):eq]
		val := kv[eq+1:]
		// 空值视为未设置（.env 模板留空的键）
		if strings.TrimSpace(val) == "" {
			continue
		}
		switch nk {
		case "INPUTS":
			over.Inputs = splitComma(val)
		case "PRESET":
			over.Preset = strings.TrimSpace(val)
		case "DRY_RUN":
			b, err := parseBool(nk, val)
			if err != nil {
				return over, err
			}
			over.DryRun = b
		case "STRICT":
			b, err := parseBool(nk, val)
			if err != nil {
				return over, err
			}
			over.Strict = b
		case "AUDIT_IDS":
			b, err := parseBool(nk, val)
			if err != nil {
				return over, err
			}
			over.AuditIDs = b
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_FORMAT":
			over.Logging.Format = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "COMPONENTS_READER":
			over.Components.Reader = strings.TrimSpace(val)
		case "COMPONENTS_WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "OPTIONS_READER_JSON":
			// 原样 JSON
			over.Options.Reader = json.RawMessage(val)
		case "OPTIONS_WRITER_JSON":
			over.Options.Writer = json.RawMessage(val)
		case "PASSES_JSON":
			dec := json.NewDecoder(strings.NewReader(val))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&over.Passes); err != nil {
				return over, fmt.Errorf("env %sPASSES_JSON: %w", EnvPrefix, err)
			}
		case "LEDGER":
			over.Ledger.Path = strings.TrimSpace(val)
		case "REPORT":
			over.Report = strings.TrimSpace(val)
		}
	}
	return over, nil
}

// PatchRaw 在 JSON 对象 raw 上设置顶层键 key（raw 为空时视为 {}）。
func PatchRaw(raw json.RawMessage, key string, value any) (json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	if t := bytes.TrimSpace(raw); len(t) > 0 && !bytes.Equal(t, []byte("null")) {
		if err := json.Unmarshal(t, &m); err != nil {
			return nil, fmt.Errorf("patch %q: options must be a JSON object: %w", key, err)
		}
	}
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	m[key] = v
	return json.Marshal(m)
}

func parseBool(key, val string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return false, fmt.Errorf("env %s%s: %w", EnvPrefix, key, err)
	}
	return b, nil
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func clonePasses(in []PassSpec) []PassSpec {
	out := make([]PassSpec, len(in))
	for i, p := range in {
		p.Options = cloneRaw(p.Options)
		out[i] = p
	}
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

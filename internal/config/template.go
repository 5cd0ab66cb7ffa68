package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 输入为当前目录下的 HTML 文件，原地写回；
// - Passes 显式展开 landing-page 预设，便于按需增删；
// - 选项给出全部键与中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := Config{
		Inputs:     []string{"."},
		Preset:     d.Preset,
		Passes:     Presets()[DefaultPreset],
		Logging:    d.Logging,
		Components: d.Components,
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "allow_exts": [".html", ".htm"],
  "exclude_dir_names": [".git", "node_modules", "vendor"]
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "",
  "atomic": true,
  "flat": true,
  "backup": false,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}

package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs []string `json:"inputs"`
	// DryRun: 只统计与报告，不写回。
	DryRun bool `json:"dry_run"`
	// Strict: 任一 Pass 产生告警时该文件不写回，运行以退出码 2 结束。
	Strict bool `json:"strict"`
	// AuditIDs: 在最终输出上统计重复 id 并写入报告。
	AuditIDs bool `json:"audit_ids"`
	// Preset: Passes 为空时使用的内置 Pass 组合名。
	Preset string `json:"preset"`
	// Passes: 显式 Pass 列表，按顺序执行；非空时忽略 Preset。
	Passes  []PassSpec `json:"passes"`
	Logging Logging    `json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`

	Ledger Ledger `json:"ledger"`
	// Report: JSON 报告输出；"-" 为 stdout，其余为文件路径，空则不输出。
	Report string `json:"report"`
}

// PassSpec: 单个 Pass 的声明。
type PassSpec struct {
	// Name: 报告中的名称；非空时覆盖 Options 中的 name。
	Name string `json:"name"`
	// Kind: 注册表中的 Pass 类型（fragment|stray）。
	Kind    string          `json:"kind"`
	Options json.RawMessage `json:"options"`
	// Verify: 可选 CSS 选择器；Pass 前后统计匹配元素数写入报告。
	Verify string `json:"verify"`
}

// Logging: 日志等级、格式与目录。
type Logging struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Dir    string `json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader string `json:"reader"`
	Writer string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader json.RawMessage `json:"reader"`
	Writer json.RawMessage `json:"writer"`
}

// Ledger: SQLite 运行台账；Path 为空表示关闭。
type Ledger struct {
	Path string `json:"path"`
}

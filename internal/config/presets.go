package config

import (
	"encoding/json"
	"fmt"
	"sort"

	pfrag "htmldedup/plugins/pass/fragment"
	pstray "htmldedup/plugins/pass/stray"
)

// 落地页三类重复片段的规则。
const (
	modalPattern = `<!-- 30秒体験デモモーダル -->.*?</div>\s*\n\s*</div>\s*\n`
	stagePattern = `<div class="demo-stage" id="demoStage">.*?</div>\s*</div>\s*</div>\s*</div>`

	progressTrigger = `<div class="demo-progress-bar">`
	progressResync  = `<section`
)

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func modalPass() PassSpec {
	return PassSpec{
		Name:    "modal",
		Kind:    "fragment",
		Options: mustRaw(pfrag.Options{Name: "modal", Pattern: modalPattern}),
		Verify:  ".demo-modal",
	}
}

func stagePass() PassSpec {
	return PassSpec{
		Name:    "stage",
		Kind:    "fragment",
		Options: mustRaw(pfrag.Options{Name: "stage", Pattern: stagePattern}),
		Verify:  "#demoStage",
	}
}

func progressBarPass() PassSpec {
	return PassSpec{
		Name: "progress-bar",
		Kind: "stray",
		Options: mustRaw(pstray.Options{
			Name:    "progress-bar",
			Trigger: progressTrigger,
			Resync:  progressResync,
			Nesting: &pstray.Nesting{
				Open:    `<div class="demo-modal"`,
				Close:   `</div>`,
				Confirm: "demo-modal",
				Sibling: "demo-particles",
				Window:  5,
			},
		}),
		Verify: ".demo-progress-bar",
	}
}

// Presets 返回内置预设（每次调用返回新副本）。
// landing-page 依次执行 modal、stage、progress-bar。
func Presets() map[string][]PassSpec {
	return map[string][]PassSpec{
		"landing-page": {modalPass(), stagePass(), progressBarPass()},
		"modal":        {modalPass()},
		"stage":        {stagePass()},
		"progress-bar": {progressBarPass()},
	}
}

// PresetNames 返回预设名（字典序）。
func PresetNames() []string {
	ps := Presets()
	out := make([]string, 0, len(ps))
	for k := range ps {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ResolvePasses 返回生效的 Pass 列表：显式 Passes 优先，否则按 Preset 展开。
func ResolvePasses(cfg Config) ([]PassSpec, error) {
	if len(cfg.Passes) > 0 {
		return clonePasses(cfg.Passes), nil
	}
	if cfg.Preset == "" {
		return nil, fmt.Errorf("config: no passes and no preset")
	}
	ps, ok := Presets()[cfg.Preset]
	if !ok {
		return nil, fmt.Errorf("config: preset %q not found", cfg.Preset)
	}
	return ps, nil
}

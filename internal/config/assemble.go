package config

import (
	"errors"
	"fmt"
	"strings"

	"htmldedup/internal/pipeline"
	"htmldedup/pkg/contract"
	"htmldedup/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "json", "console":
	default:
		return fmt.Errorf("config: logging.format %q must be json or console", cfg.Logging.Format)
	}
	passes, err := ResolvePasses(cfg)
	if err != nil {
		return err
	}
	seen := map[string]int{}
	for i, p := range passes {
		if registry.Pass[p.Kind] == nil {
			return fmt.Errorf("config: passes[%d]: kind %q not registered (have %v)", i, p.Kind, registry.PassKinds())
		}
		if p.Name != "" {
			if j, dup := seen[p.Name]; dup {
				return fmt.Errorf("config: passes[%d]: name %q already used by passes[%d]", i, p.Name, j)
			}
			seen[p.Name] = i
		}
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	if name := effName(cfg.Components.Reader, Defaults().Components.Reader); registry.Reader[name] == nil {
		return fmt.Errorf("config: reader %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, Defaults().Components.Writer); registry.Writer[name] == nil {
		return fmt.Errorf("config: writer %q not registered", name)
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
// 规则无效的 Pass 返回的错误可用 errors.Is(err, contract.ErrPatternInvalid) 判定。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	r, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("reader %s: %w", rn, err)
	}
	w, err := registry.Writer[wn](cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("writer %s: %w", wn, err)
	}

	specs, err := ResolvePasses(cfg)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	passes := make([]contract.Pass, 0, len(specs))
	verify := make([]string, 0, len(specs))
	for i, s := range specs {
		raw := s.Options
		if s.Name != "" {
			if raw, err = PatchRaw(raw, "name", s.Name); err != nil {
				return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("passes[%d]: %w", i, err)
			}
		}
		p, err := registry.Pass[s.Kind](raw)
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("passes[%d] %s: %w", i, s.Kind, err)
		}
		passes = append(passes, p)
		verify = append(verify, strings.TrimSpace(s.Verify))
	}

	comp := pipeline.Components{
		Reader: r,
		Passes: passes,
		Writer: w,
	}
	set := pipeline.Settings{
		Inputs:   cloneStrings(cfg.Inputs),
		DryRun:   cfg.DryRun,
		Strict:   cfg.Strict,
		Verify:   verify,
		AuditIDs: cfg.AuditIDs,
	}
	return comp, set, nil
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}

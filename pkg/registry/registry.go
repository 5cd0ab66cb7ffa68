package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"htmldedup/pkg/contract"
	pfrag "htmldedup/plugins/pass/fragment"
	pstray "htmldedup/plugins/pass/stray"
	rfs "htmldedup/plugins/reader/filesystem"
	wfs "htmldedup/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewPass 工厂签名：接收原样 JSON Options。
type NewPass func(raw json.RawMessage) (contract.Pass, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件/目录/STDIN
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Pass 工厂注册表，键为 PassSpec.Kind。
var Pass = map[string]NewPass{
	// fragment: 整段片段去重（起止标记或正则）
	"fragment": func(raw json.RawMessage) (contract.Pass, error) {
		var opts pfrag.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pfrag.New(&opts)
	},
	// stray: 按行跳过-重同步（嵌套感知）
	"stray": func(raw json.RawMessage) (contract.Pass, error) {
		var opts pstray.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pstray.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 原地写回或写入输出目录（原子替换、xz 备份可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// PassKinds 返回已注册的 Pass 类型（字典序）。
func PassKinds() []string {
	out := make([]string, 0, len(Pass))
	for k := range Pass {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

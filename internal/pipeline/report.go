package pipeline

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"htmldedup/internal/audit"
	"htmldedup/internal/diag"
	"htmldedup/pkg/contract"
)

// 文件处理结果状态。
const (
	StatusWritten   = "written"
	StatusUnchanged = "unchanged" // 摘要未变，跳过写出
	StatusDryRun    = "dry-run"
	StatusHeld      = "held" // Strict 下存在告警，未写出
	StatusFailed    = "failed"
)

// VerifyCount: Pass 前后选择器匹配的元素数。
type VerifyCount struct {
	Selector string `json:"selector"`
	Before   int    `json:"before"`
	After    int    `json:"after"`
}

// PassReport: 单个 Pass 在单个文件上的结果。Found/Removed 的含义同 contract.PassResult。
type PassReport struct {
	Name     string          `json:"name"`
	Found    int             `json:"found"`
	Removed  int             `json:"removed"`
	Spans    []contract.Span `json:"spans,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Verify   *VerifyCount    `json:"verify,omitempty"`
	Meta     contract.Meta   `json:"meta,omitempty"`
}

// FileReport: 单个文件的处理结果。
type FileReport struct {
	FileID       contract.FileID `json:"file_id"`
	Status       string          `json:"status"`
	BytesBefore  int             `json:"bytes_before"`
	BytesAfter   int             `json:"bytes_after"`
	DigestBefore string          `json:"digest_before,omitempty"`
	DigestAfter  string          `json:"digest_after,omitempty"`
	Removed      int             `json:"removed"`
	Warnings     int             `json:"warnings"`
	Passes       []PassReport    `json:"passes,omitempty"`
	DuplicateIDs []audit.IDCount `json:"duplicate_ids,omitempty"`
	Error        string          `json:"error,omitempty"`
	DurMS        int64           `json:"dur_ms"`
}

// Report: 一次运行的汇总。
type Report struct {
	CorrID   string        `json:"corr_id,omitempty"`
	DryRun   bool          `json:"dry_run"`
	Strict   bool          `json:"strict"`
	Files    []FileReport  `json:"files"`
	Written  int           `json:"written"`
	Removed  int           `json:"removed"`
	Warnings int           `json:"warnings"`
	Held     int           `json:"held"`
	Metrics  []diag.Metric `json:"metrics,omitempty"`
}

func (r *Report) add(f FileReport) {
	r.Files = append(r.Files, f)
	r.Removed += f.Removed
	r.Warnings += f.Warnings
	switch f.Status {
	case StatusWritten:
		r.Written++
	case StatusHeld:
		r.Held++
	}
}

// Digest 返回内容的 BLAKE3-256 十六进制摘要。
func Digest(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

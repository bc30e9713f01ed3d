package model

// ProcessingStatus 是文档版本的处理状态，持久化为封闭的字符串枚举。
type ProcessingStatus string

const (
	StatusPending           ProcessingStatus = "pending"
	StatusFailedDownload    ProcessingStatus = "failed_download"
	StatusScanFailed        ProcessingStatus = "scan_failed"
	StatusScannedClean      ProcessingStatus = "scanned_clean"
	StatusProcessing        ProcessingStatus = "processing"
	StatusIndexed           ProcessingStatus = "indexed"
	StatusNoTextExtracted   ProcessingStatus = "no_text_extracted"
	StatusUnsupportedFormat ProcessingStatus = "unsupported_format"
	StatusInfected          ProcessingStatus = "infected"
	StatusFailedDecryption  ProcessingStatus = "failed_decryption"
	StatusFailedIndexing    ProcessingStatus = "failed_indexing"
	StatusFailedProcessing  ProcessingStatus = "failed_processing"
)

// AllStatuses 按流水线推进顺序列出所有已知状态。
var AllStatuses = []ProcessingStatus{
	StatusPending,
	StatusFailedDownload,
	StatusScanFailed,
	StatusScannedClean,
	StatusProcessing,
	StatusIndexed,
	StatusNoTextExtracted,
	StatusUnsupportedFormat,
	StatusInfected,
	StatusFailedDecryption,
	StatusFailedIndexing,
	StatusFailedProcessing,
}

// rank 定义状态在流水线中的先后，终态共享最高位次。未知状态返回 -1。
func (s ProcessingStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusFailedDownload:
		return 1
	case StatusScanFailed:
		return 2
	case StatusScannedClean:
		return 3
	case StatusProcessing:
		return 4
	case StatusIndexed, StatusNoTextExtracted, StatusUnsupportedFormat, StatusInfected,
		StatusFailedDecryption, StatusFailedIndexing, StatusFailedProcessing:
		return 5
	default:
		return -1
	}
}

// IsKnown 判断状态是否属于封闭枚举。
func (s ProcessingStatus) IsKnown() bool {
	return s.rank() >= 0
}

// IsTerminal 判断是否为终态：到达后不会再自动重试。
func (s ProcessingStatus) IsTerminal() bool {
	return s.rank() == 5
}

// IsRetrying 判断是否为等待下一次重试时对外可见的中间失败状态。
func (s ProcessingStatus) IsRetrying() bool {
	return s == StatusFailedDownload || s == StatusScanFailed
}

// IsIndexed 判断版本的分块是否可被检索。未知状态一律视为尚未索引。
func (s ProcessingStatus) IsIndexed() bool {
	return s == StatusIndexed
}

// IsFailure 判断终态是否属于需要告警的失败。infected、no_text_extracted、unsupported_format 不算。
func (s ProcessingStatus) IsFailure() bool {
	switch s {
	case StatusFailedDecryption, StatusFailedIndexing, StatusFailedProcessing:
		return true
	default:
		return false
	}
}

// CanTransition 判断 from -> to 的状态迁移是否合法：
// 任何状态都可以回到 pending（重新提交）；中间失败状态可以原地重复写入；
// 其余迁移必须严格向前推进，终态之间不能互相迁移。
func CanTransition(from, to ProcessingStatus) bool {
	if !to.IsKnown() {
		return false
	}
	if to == StatusPending {
		return true
	}
	if from == to {
		return from.IsRetrying()
	}
	if from.IsTerminal() {
		return false
	}
	return to.rank() > from.rank()
}

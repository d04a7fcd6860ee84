package errors

import stderrors "errors"

// DocChat 服务代码: 20 (业务服务范围 20-79)
// 错误码格式: AABBCCC
// - AA: 20 (DocChat 服务)
// - BB: 类别代码
// - CCC: 序号

var (
	// 请求参数错误 (类别 01)
	ErrInvalidRequest    = NewRequestErr(ServiceDocChat, 1, "Invalid request parameters", "请求参数无效")
	ErrInvalidDocumentID = NewRequestErr(ServiceDocChat, 2, "Invalid document identifier", "文档标识无效")
	ErrExtraction        = NewRequestErr(ServiceDocChat, 10, "Document text extraction failed", "文档文本提取失败")
	ErrUnsupportedFormat = NewRequestErr(ServiceDocChat, 11, "Unsupported document format", "不支持的文档格式")

	// 资源错误 (类别 04)
	ErrDocumentNotFound = NewNotFoundErr(ServiceDocChat, 1, "Document not found", "文档不存在")
	ErrIndexNotFound    = NewNotFoundErr(ServiceDocChat, 10, "Document index not found", "文档索引不存在")

	// 冲突错误 (类别 05)
	ErrDocumentExists = NewConflictErr(ServiceDocChat, 1, "Document already exists", "文档已存在")

	// 供应商限流 (类别 06)
	ErrProviderExhausted = NewRateLimitErr(ServiceDocChat, 1, "Model provider resource exhausted", "模型供应商资源耗尽")

	// 内部错误 (类别 07)
	ErrQueryFailed  = NewInternalErr(ServiceDocChat, 1, "Query failed", "查询失败")
	ErrIngestion    = NewInternalErr(ServiceDocChat, 10, "Document ingestion failed", "文档入库失败")
	ErrIndexCorrupt = NewInternalErr(ServiceDocChat, 11, "Document index is corrupt", "文档索引已损坏")

	// 数据库错误 (类别 08)
	ErrCatalog = NewDatabaseErr(ServiceDocChat, 1, "Document catalog operation failed", "文档目录操作失败")

	// 网络错误 (类别 10)
	ErrProviderFailure = NewNetworkErr(ServiceDocChat, 3, "Model provider request failed", "模型供应商请求失败")
)

// IsResourceExhausted 判断错误链中是否包含供应商资源耗尽错误。
func IsResourceExhausted(err error) bool {
	return stderrors.Is(err, ErrProviderExhausted)
}

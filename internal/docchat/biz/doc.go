// Package biz 实现文档问答的业务逻辑：
//
//   - Gateway: Embedding 与文本生成调用，配额耗尽时退避重试
//   - Ingestor: 文档提取、切分、向量化和落盘
//   - Registry: 文档标识到索引与元数据位置的映射，以及按文档的读写锁
//   - Engine: 相关性判断、MMR 检索和多文档回答合并
//   - Cleaner: 单文档删除与全量清理
//   - Service: 供命令行使用的组合入口
package biz

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("docchat/biz")

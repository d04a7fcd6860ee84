package pool

import "errors"

var (
	// ErrPoolClosed 池已释放，不再接受任务。
	ErrPoolClosed = errors.New("pool: closed")

	// ErrInvalidPoolConfig 容量或超时配置非法。
	ErrInvalidPoolConfig = errors.New("pool: invalid config")

	// ErrPoolOverload 非阻塞池已满。
	ErrPoolOverload = errors.New("pool: overloaded")
)

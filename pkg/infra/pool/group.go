package pool

import (
	"context"
	"fmt"
	"sync"
)

// RunAll 在池中执行全部任务并等待结束，返回第一个错误。
// 任一任务失败后会取消传给其余任务的 ctx；尚未开始的任务不再执行。
// 任务内的 panic 被转换为错误。
func (p *Pool) RunAll(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i, task := range tasks {
		wg.Add(1)
		idx, fn := i, task
		err := p.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					fail(fmt.Errorf("task %d panicked: %v", idx, r))
				}
			}()
			if ctx.Err() != nil {
				return
			}
			if err := fn(ctx); err != nil {
				fail(err)
			}
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit task %d: %w", idx, err))
			break
		}
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

package mediaengine

import (
	"log/slog"
	"sync"
)

// serialExecutor - единственный FIFO воркер движка. Все задачи
// выполняются последовательно в порядке поступления; паника в задаче
// не останавливает воркер.
type serialExecutor struct {
	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newSerialExecutor(queueSize int) *serialExecutor {
	e := &serialExecutor{
		tasks: make(chan func(), queueSize),
		done:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *serialExecutor) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case task := <-e.tasks:
			e.runTask(task)
		}
	}
}

func (e *serialExecutor) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mediaengine task panicked",
				slog.Any("panic", r))
		}
	}()
	task()
}

// submit ставит задачу в очередь воркера. Возвращает false после
// остановки воркера, задача при этом не выполняется.
func (e *serialExecutor) submit(task func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case <-e.done:
		return false
	case e.tasks <- task:
		return true
	}
}

// close останавливает воркер и дожидается завершения текущей задачи.
// Идемпотентен. Задачи, оставшиеся в очереди, не выполняются.
func (e *serialExecutor) close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}

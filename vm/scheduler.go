package vm

import (
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Scheduler: Cooperative FIFO task queue
// ---------------------------------------------------------------------------

var schedLog = commonlog.GetLogger("hebi.sched")

// TaskState is the lifecycle state of an async task.
type TaskState int

const (
	TaskReady TaskState = iota
	TaskRunning
	TaskSuspended
	TaskDone
	TaskFailed
	TaskCancelled
)

var taskStateNames = map[TaskState]string{
	TaskReady:     "ready",
	TaskRunning:   "running",
	TaskSuspended: "suspended",
	TaskDone:      "done",
	TaskFailed:    "failed",
	TaskCancelled: "cancelled",
}

func (s TaskState) String() string {
	if name, ok := taskStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// TaskObject is a heap-resident async activation: it owns its own call
// stack, detached from any other task. Calling an async function
// allocates one of these and returns its value to the caller; the
// frames run only when the scheduler resumes the task.
type TaskObject struct {
	Self   Value // this task's own heap value
	State  TaskState
	frames []*Frame

	result Value // valid once Done
	errVal Value // raised value once Failed

	awaiters []Value // task values suspended on this task (FIFO)

	// Pending delivery applied at next resume: either a value written
	// into the awaiting register, or an error raised into the task.
	resumeValue  Value
	resumeErr    Value
	hasErr       bool
	awaitPending bool  // a suspended await needs its result delivered
	awaitDst     uint8 // register of the top frame receiving the awaited result

	cancelled bool
}

func (t *TaskObject) Kind() ObjectKind { return KindTask }

func (t *TaskObject) Trace(visit func(Value)) {
	for _, f := range t.frames {
		visit(f.closureVal)
		for _, v := range f.regs {
			visit(v)
		}
	}
	visit(t.result)
	visit(t.errVal)
	visit(t.resumeValue)
	visit(t.resumeErr)
	for _, v := range t.awaiters {
		visit(v)
	}
}

// ---------------------------------------------------------------------------
// VM scheduling operations
// ---------------------------------------------------------------------------

// spawn allocates a task for an async closure call and enqueues it.
// The returned value is the pending-task handle given to the caller.
func (vm *VM) spawn(closureVal Value, closure *ClosureObject, args []Value) (Value, *RuntimeError) {
	frame, err := vm.newFrame(closureVal, closure, args, 0)
	if err != nil {
		return None, err
	}

	task := &TaskObject{State: TaskReady, frames: []*Frame{frame}}
	taskVal := vm.heap.Alloc(task)
	task.Self = taskVal
	task.result = None
	task.errVal = None
	task.resumeValue = None
	task.resumeErr = None

	vm.ready = append(vm.ready, taskVal)
	schedLog.Debugf("spawned task for %s (%d ready)", closure.Proto.Name, len(vm.ready))
	return taskVal, nil
}

// enqueue marks a task ready and appends it to the run queue. Settled
// tasks stay settled: waking one would clobber its final state.
func (vm *VM) enqueue(taskVal Value, task *TaskObject) {
	switch task.State {
	case TaskDone, TaskFailed, TaskCancelled:
		return
	}
	task.State = TaskReady
	vm.ready = append(vm.ready, taskVal)
}

// complete finishes a task and wakes its awaiters in FIFO order.
func (vm *VM) complete(task *TaskObject, result Value) {
	task.State = TaskDone
	task.result = result
	task.frames = nil
	for _, awVal := range task.awaiters {
		if aw, ok := vm.heap.GetTask(awVal); ok {
			aw.resumeValue = result
			aw.hasErr = false
			vm.enqueue(awVal, aw)
		}
	}
	task.awaiters = nil
}

// fail finishes a task with a raised value and propagates it to the
// awaiters. A failure nobody awaits is reported, not fatal.
func (vm *VM) fail(task *TaskObject, errVal Value) {
	task.State = TaskFailed
	task.errVal = errVal
	task.frames = nil
	if len(task.awaiters) == 0 {
		schedLog.Errorf("task failed with no awaiter: %s", vm.heap.Render(errVal))
	}
	for _, awVal := range task.awaiters {
		if aw, ok := vm.heap.GetTask(awVal); ok {
			aw.resumeErr = errVal
			aw.hasErr = true
			vm.enqueue(awVal, aw)
		}
	}
	task.awaiters = nil
}

// Cancel marks a task cancelled. The next time the scheduler would
// resume it, it instead unwinds with a Cancelled error, running any
// handlers and cleanup blocks on its stack. Completed tasks are left
// alone.
func (vm *VM) Cancel(taskVal Value) {
	task, ok := vm.heap.GetTask(taskVal)
	if !ok {
		return
	}
	switch task.State {
	case TaskDone, TaskFailed, TaskCancelled:
		return
	}
	task.cancelled = true
	if task.State == TaskSuspended {
		vm.enqueue(taskVal, task)
	}
}

// drain resumes ready tasks in FIFO order until the queue empties.
func (vm *VM) drain() {
	for len(vm.ready) > 0 {
		taskVal := vm.ready[0]
		vm.ready = vm.ready[1:]

		task, ok := vm.heap.GetTask(taskVal)
		if !ok || task.State != TaskReady {
			continue
		}
		vm.resume(taskVal, task)
	}
}

// resume re-attaches a task's frames and runs it until it completes or
// suspends again.
func (vm *VM) resume(taskVal Value, task *TaskObject) {
	if task.cancelled {
		// The cancellation is delivered exactly once; a handler that
		// catches it lets the task keep running.
		task.cancelled = false
		task.awaitPending = false
		cancelErr := vm.heap.Alloc(&ErrorObject{Err: runtimeErr(ErrCancelled, "task cancelled")})
		if !vm.unwind(task, cancelErr) {
			task.State = TaskCancelled
			task.frames = nil
			vm.failCancelled(task, cancelErr)
			return
		}
		// A handler caught the cancellation; fall through and run.
	} else if task.hasErr {
		task.awaitPending = false
		errVal := task.resumeErr
		task.hasErr = false
		task.resumeErr = None
		if !vm.unwind(task, errVal) {
			vm.fail(task, errVal)
			return
		}
	} else if task.awaitPending && len(task.frames) > 0 {
		task.awaitPending = false
		top := task.frames[len(task.frames)-1]
		top.regs[task.awaitDst] = task.resumeValue
		task.resumeValue = None
	}

	task.State = TaskRunning
	vm.runTask(taskVal, task)
}

// failCancelled propagates a cancellation to awaiters like a failure.
func (vm *VM) failCancelled(task *TaskObject, errVal Value) {
	task.errVal = errVal
	for _, awVal := range task.awaiters {
		if aw, ok := vm.heap.GetTask(awVal); ok {
			aw.resumeErr = errVal
			aw.hasErr = true
			vm.enqueue(awVal, aw)
		}
	}
	task.awaiters = nil
}

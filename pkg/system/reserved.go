package system

import "github.com/backkem/wasmkernel/pkg/ipc"

// Reserved virtual PIDs (spec.md §4.5): these never correspond to a real
// pkg/process entry. They are chosen as large fixed sentinels, far outside
// the range idpool.Pool ever draws at random, rather than needing explicit
// collision-avoidance bookkeeping against live processes.
const (
	PidInterface ipc.Pid = 0xFFFFFFFFFFFFFFF1
	PidThreads   ipc.Pid = 0xFFFFFFFFFFFFFFF2
	PidLoader    ipc.Pid = 0xFFFFFFFFFFFFFFF3
	PidHardware  ipc.Pid = 0xFFFFFFFFFFFFFFF4
	pidSelfTest  ipc.Pid = 0xFFFFFFFFFFFFFFF5
)

func isReservedPid(pid ipc.Pid) bool {
	switch pid {
	case PidInterface, PidThreads, PidLoader, PidHardware, pidSelfTest:
		return true
	default:
		return false
	}
}

// ============================================================================
// gymflow end-to-end tests
// ============================================================================
//
// Package: test/integration
// File: helpers_test.go
// Purpose: shared dataset generation for the end-to-end suite
//
// Generated workflows are layered DAGs: task i feeds tasks i+1 and i+2, so
// ids are already a topological order and every scheduler that commits in
// offer order keeps parents ahead of children on each machine.
// ============================================================================

package integration

import (
	"github.com/ChuLiYu/gymflow/internal/simulation"
	"github.com/ChuLiYu/gymflow/pkg/types"
)

// generateDataset builds workflows arriving every interval seconds.
func generateDataset(workflows, tasksPerWorkflow, machines int, interval float64) simulation.Dataset {
	ds := simulation.Dataset{}
	for m := 1; m <= machines; m++ {
		ds.VMs = append(ds.VMs, simulation.VM{ID: types.MachineID(m), CPUSpeedMIPS: int64(10 * m)})
	}

	for w := 1; w <= workflows; w++ {
		wf := types.Workflow{
			ID:          types.WorkflowID(w),
			ArrivalTime: float64(w-1) * interval,
		}
		for i := 1; i <= tasksPerWorkflow; i++ {
			task := types.Task{ID: types.TaskID(i), Length: int64(50 + 25*(i%4))}
			for _, child := range []int{i + 1, i + 2} {
				if child <= tasksPerWorkflow {
					task.ChildIDs = append(task.ChildIDs, types.TaskID(child))
				}
			}
			wf.Tasks = append(wf.Tasks, task)
		}
		ds.Workflows = append(ds.Workflows, wf)
	}
	return ds
}

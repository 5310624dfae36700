package simulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/ChuLiYu/gymflow/pkg/types"
)

// horizonSlack is added to the worst-case sequential runtime of a dataset.
const horizonSlack = 1000

// ErrInvalidDataset is returned for datasets that cannot be simulated.
var ErrInvalidDataset = errors.New("invalid dataset")

// VM is a machine as it appears in dataset files.
type VM struct {
	ID           types.MachineID `json:"id"`
	CPUSpeedMIPS int64           `json:"cpu_speed_mips"`
}

// Dataset is the simulation input: workflows with arrival times and the
// machine pool.
type Dataset struct {
	Workflows []types.Workflow `json:"workflows"`
	VMs       []VM             `json:"vms"`
}

// LoadDataset reads a dataset from path, or from stdin when path is "" or "-".
func LoadDataset(path string) (Dataset, error) {
	if path == "" || path == "-" {
		return ReadDataset(os.Stdin)
	}
	file, err := os.Open(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("open dataset: %w", err)
	}
	defer file.Close()
	return ReadDataset(file)
}

// ReadDataset decodes and validates a dataset.
func ReadDataset(r io.Reader) (Dataset, error) {
	var ds Dataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return Dataset{}, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	if err := ds.Validate(); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

// Validate checks what the simulation relies on: at least one machine,
// positive speeds, unique machine ids and non-negative lengths. Workflow
// structure is validated by the executor on registration.
func (ds Dataset) Validate() error {
	if len(ds.VMs) == 0 {
		return fmt.Errorf("%w: no vms", ErrInvalidDataset)
	}
	seen := make(map[types.MachineID]struct{}, len(ds.VMs))
	for _, vm := range ds.VMs {
		if vm.CPUSpeedMIPS <= 0 {
			return fmt.Errorf("%w: vm %d has speed %d", ErrInvalidDataset, vm.ID, vm.CPUSpeedMIPS)
		}
		if _, dup := seen[vm.ID]; dup {
			return fmt.Errorf("%w: duplicate vm %d", ErrInvalidDataset, vm.ID)
		}
		seen[vm.ID] = struct{}{}
	}
	for _, wf := range ds.Workflows {
		if wf.ArrivalTime < 0 {
			return fmt.Errorf("%w: workflow %d arrives at %v", ErrInvalidDataset, wf.ID, wf.ArrivalTime)
		}
		for _, task := range wf.Tasks {
			if task.Length < 0 {
				return fmt.Errorf("%w: task %s has length %d", ErrInvalidDataset, types.Key(wf.ID, task.ID), task.Length)
			}
		}
	}
	return nil
}

// Machines converts the dataset VMs to domain machines.
func (ds Dataset) Machines() []types.Machine {
	out := make([]types.Machine, len(ds.VMs))
	for i, vm := range ds.VMs {
		out[i] = types.Machine{ID: vm.ID, Speed: vm.CPUSpeedMIPS}
	}
	return out
}

// TaskCount is the number of tasks over all workflows.
func (ds Dataset) TaskCount() int {
	n := 0
	for _, wf := range ds.Workflows {
		n += len(wf.Tasks)
	}
	return n
}

// MaximumHorizon bounds the simulated time: every task run back to back on
// the slowest machine, plus a fixed slack.
func (ds Dataset) MaximumHorizon() float64 {
	var minSpeed int64 = math.MaxInt64
	for _, vm := range ds.VMs {
		if vm.CPUSpeedMIPS < minSpeed {
			minSpeed = vm.CPUSpeedMIPS
		}
	}
	var total int64
	for _, wf := range ds.Workflows {
		for _, task := range wf.Tasks {
			total += task.Length
		}
	}
	if len(ds.VMs) == 0 || minSpeed <= 0 {
		return horizonSlack
	}
	return math.Trunc(float64(total)/float64(minSpeed)) + horizonSlack
}

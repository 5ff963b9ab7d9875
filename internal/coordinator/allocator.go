package coordinator

import (
	"seabench/benchmark-engine/pkg/types"
)

// JoinPoint is a barrier between schedule steps. Every client lane reaches
// the join point before any lane continues past it; across workers the
// coordinator enforces the barrier by withholding the next step until all
// workers reported in.
type JoinPoint struct {
	ID int
	// ClientsExecutingCompletingTask lists the lanes whose task can finish
	// the preceding parallel group early. Empty for plain barriers.
	ClientsExecutingCompletingTask []int
}

// PrecedingTaskCompletesParent reports whether the segment before this
// join point contains a completes-parent task.
func (j *JoinPoint) PrecedingTaskCompletesParent() bool {
	return len(j.ClientsExecutingCompletingTask) > 0
}

// TaskAllocation binds one client of one task to a lane slot.
type TaskAllocation struct {
	Task *types.Task
	// ClientIndexInTask counts the clients of this task only.
	ClientIndexInTask int
	// GlobalClientIndex is unique across the whole schedule element.
	GlobalClientIndex int
	// TotalClients is the client count of the whole schedule element, not
	// of the single task.
	TotalClients int
}

// Slot is one element of a client lane: a join point, a task allocation,
// or padding when the lane sits a round out.
type Slot struct {
	JoinPoint *JoinPoint
	Task      *TaskAllocation
}

// Empty reports whether the slot carries neither work nor a barrier.
func (s Slot) Empty() bool { return s.JoinPoint == nil && s.Task == nil }

// Plan lays out a test procedure as one slot list per client lane,
// bracketed by join points: [join, work..., join, work..., join]. Lane k
// carries the work of physical client k. Parallel group members are dealt
// round-robin across lanes, so a group with more tasks than clients queues
// several tasks onto one lane, executed back to back.
type Plan struct {
	// Clients is the number of lanes, the maximum concurrency of the plan.
	Clients    int
	Lanes      [][]Slot
	JoinPoints []*JoinPoint
}

// BuildPlan computes the lane layout for a test procedure schedule. The
// lane count is the largest client demand of any schedule element; every
// lane has the same length with join points at identical positions.
func BuildPlan(schedule []*types.TaskNode) (*Plan, error) {
	clients := 1
	for _, node := range schedule {
		if node == nil || (node.Task == nil && node.Parallel == nil) {
			return nil, types.NewConfigurationError("schedule contains an empty task node")
		}
		if n := nodeClients(node); n > clients {
			clients = n
		}
	}

	lanes := make([][]Slot, clients)
	join := &JoinPoint{ID: 0}
	joinPoints := []*JoinPoint{join}
	for lane := range lanes {
		lanes[lane] = append(lanes[lane], Slot{JoinPoint: join})
	}

	for _, node := range schedule {
		total := nodeClients(node)
		start := 0
		var completing []int
		for _, task := range node.Tasks() {
			for ci := start; ci < start+task.EffectiveClients(); ci++ {
				lane := ci % clients
				if task.CompletesParent {
					completing = append(completing, lane)
				}
				lanes[lane] = append(lanes[lane], Slot{Task: &TaskAllocation{
					Task:              task,
					ClientIndexInTask: ci - start,
					GlobalClientIndex: ci,
					TotalClients:      total,
				}})
			}
			start += task.EffectiveClients()
		}

		// Lanes that drew fewer tasks this round pad to the longest lane
		// so the next join point lines up at the same position everywhere.
		longest := 0
		for lane := range lanes {
			if len(lanes[lane]) > longest {
				longest = len(lanes[lane])
			}
		}
		for lane := range lanes {
			for len(lanes[lane]) < longest {
				lanes[lane] = append(lanes[lane], Slot{})
			}
		}

		join = &JoinPoint{ID: len(joinPoints), ClientsExecutingCompletingTask: completing}
		joinPoints = append(joinPoints, join)
		for lane := range lanes {
			lanes[lane] = append(lanes[lane], Slot{JoinPoint: join})
		}
	}

	return &Plan{Clients: clients, Lanes: lanes, JoinPoints: joinPoints}, nil
}

func nodeClients(node *types.TaskNode) int {
	if node.Parallel != nil {
		return node.Parallel.EffectiveClients()
	}
	return node.Task.EffectiveClients()
}

// Step is one executable segment of the plan: everything between two
// consecutive join points.
type Step struct {
	// Index is the position of the step in the plan, starting at zero.
	Index int
	// Tasks holds the distinct tasks of the segment in dealing order.
	Tasks []*types.Task
	// Lanes maps each plan lane to its ordered task allocations for this
	// segment. A lane without work in the segment stays nil.
	Lanes [][]*TaskAllocation
	// JoinPoint is the trailing barrier of the segment.
	JoinPoint *JoinPoint
}

// Steps splits the plan into executable segments, one per pair of
// consecutive join points.
func (p *Plan) Steps() []*Step {
	if len(p.Lanes) == 0 {
		return nil
	}
	positions := make([]int, 0, len(p.JoinPoints))
	for i, slot := range p.Lanes[0] {
		if slot.JoinPoint != nil {
			positions = append(positions, i)
		}
	}

	steps := make([]*Step, 0, len(positions))
	for k := 0; k+1 < len(positions); k++ {
		step := &Step{
			Index:     k,
			Lanes:     make([][]*TaskAllocation, p.Clients),
			JoinPoint: p.Lanes[0][positions[k+1]].JoinPoint,
		}
		seen := make(map[*types.Task]bool)
		for col := positions[k] + 1; col < positions[k+1]; col++ {
			for lane := range p.Lanes {
				slot := p.Lanes[lane][col]
				if slot.Task == nil {
					continue
				}
				step.Lanes[lane] = append(step.Lanes[lane], slot.Task)
				if !seen[slot.Task.Task] {
					seen[slot.Task.Task] = true
					step.Tasks = append(step.Tasks, slot.Task.Task)
				}
			}
		}
		steps = append(steps, step)
	}
	return steps
}

// WireAllocations flattens the given lanes of the step into the wire
// protocol form, preserving lane order so workers rebuild the sequential
// lanes exactly.
func (s *Step) WireAllocations(lanes []int) []types.ClientAllocation {
	var out []types.ClientAllocation
	for _, lane := range lanes {
		if lane < 0 || lane >= len(s.Lanes) {
			continue
		}
		for _, ta := range s.Lanes[lane] {
			out = append(out, types.ClientAllocation{
				Task:              ta.Task,
				ClientIndexInTask: ta.ClientIndexInTask,
				GlobalClientIndex: ta.GlobalClientIndex,
				TotalClients:      ta.TotalClients,
				Lane:              lane,
			})
		}
	}
	return out
}

// ClientCount returns the number of task allocations in the step.
func (s *Step) ClientCount() int {
	n := 0
	for _, lane := range s.Lanes {
		n += len(lane)
	}
	return n
}

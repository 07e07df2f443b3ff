package flow

import (
	"errors"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// ErrIllegalTransition means a handler tried to take an edge missing from the table.
var ErrIllegalTransition = errors.New("illegal state transition")

type edge struct {
	from models.StateType
	to   models.StateType
}

// transitionTable is the set of legal edges, checked with a looplab/fsm instance positioned at
// the source state. Event names are "to_<state>".
type transitionTable struct {
	events []fsm.EventDesc
}

func eventName(to models.StateType) string {
	return "to_" + string(to)
}

func newTransitionTable(birthDate bool) *transitionTable {
	edges := []edge{
		{models.StateSex, models.StateHeight},
		{models.StateHeight, models.StateMass},
		{models.StateMass, models.StateEatsMeat},
		{models.StateEatsMeat, models.StateEatsFish},
		{models.StateEatsFish, models.StateEatsDairy},
		{models.StateEatsDairy, models.StateDescription},
		{models.StateDescription, models.StateCompleted},
		{models.StateCompleted, models.StateConsulting},
		{models.StateConsulting, models.StateInitialConsultationCompleted},
		{models.StateInitialConsultationCompleted, models.StateWaitingForNotes},
		{models.StateWaitingForNotes, models.StateWaitingForLevel},
		{models.StateWaitingForLevel, models.StateInitialConsultationCompleted},
		// advice exhausted
		{models.StateInitialConsultationCompleted, models.StateCompleted},
		{models.StateConsulting, models.StateCompleted},
	}
	if birthDate {
		edges = append(edges,
			edge{models.StateLanguage, models.StateProfileOrSkip},
			edge{models.StateProfileOrSkip, models.StateBirthDate},
			edge{models.StateProfileOrSkip, models.StateCompleted},
			edge{models.StateBirthDate, models.StateSex},
		)
	} else {
		edges = append(edges, edge{models.StateLanguage, models.StateSex})
	}

	srcs := make(map[models.StateType][]string)
	var order []models.StateType
	for _, e := range edges {
		if _, seen := srcs[e.to]; !seen {
			order = append(order, e.to)
		}
		srcs[e.to] = append(srcs[e.to], string(e.from))
	}
	t := &transitionTable{}
	for _, to := range order {
		t.events = append(t.events, fsm.EventDesc{Name: eventName(to), Src: srcs[to], Dst: string(to)})
	}
	// Restart and profile retry reach the language prompt from anywhere.
	all := make([]string, 0, len(models.AllStates))
	for _, st := range models.AllStates {
		all = append(all, string(st))
	}
	t.events = append(t.events, fsm.EventDesc{Name: eventName(models.StateLanguage), Src: all, Dst: string(models.StateLanguage)})
	return t
}

// machineAt returns an fsm positioned at state.
func (t *transitionTable) machineAt(state models.StateType) *fsm.FSM {
	return fsm.NewFSM(string(state), t.events, nil)
}

// Check returns ErrIllegalTransition unless from -> to is in the table. Staying in place is
// always legal.
func (t *transitionTable) Check(from, to models.StateType) error {
	if from == to {
		return nil
	}
	if !to.IsValid() || !t.machineAt(from).Can(eventName(to)) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// Targets lists the states reachable from state in one step.
func (t *transitionTable) Targets(state models.StateType) []models.StateType {
	var out []models.StateType
	for _, ev := range t.machineAt(state).AvailableTransitions() {
		for _, e := range t.events {
			if e.Name == ev {
				out = append(out, models.StateType(e.Dst))
			}
		}
	}
	return out
}

// Graph renders the table in Graphviz format.
func (t *transitionTable) Graph() string {
	return fsm.Visualize(t.machineAt(models.StateLanguage))
}

package instrumentation

import (
	"github.com/tjper/raceworker/internal/coordinator/wire"
	"github.com/tjper/raceworker/internal/coordinator/workertable"
)

// Noop implements Hooks by doing nothing. It is the default when a
// coordinator is run without a metrics address configured.
type Noop struct{}

func (Noop) Start()                                          {}
func (Noop) End()                                             {}
func (Noop) ChangeState(pid int, old, new workertable.State) {}
func (Noop) SendProblem(pid int, p wire.Problem)              {}
func (Noop) RecvResult(pid int, r wire.Result)                {}
func (Noop) Cancel(pid int)                                   {}

var _ Hooks = Noop{}

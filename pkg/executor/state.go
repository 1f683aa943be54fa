package executor

// State is a step in the life of one unit.
type State int

const (
	Pending State = iota
	FlushOrRestart
	Populate
	Setup
	Warmup
	ProfileStart
	Running
	ProfileStop
	Parsing
	Success
	NoData
	Failed
)

var stateNames = [...]string{
	Pending:        "pending",
	FlushOrRestart: "flush_or_restart",
	Populate:       "populate",
	Setup:          "setup",
	Warmup:         "warmup",
	ProfileStart:   "profile_start",
	Running:        "running",
	ProfileStop:    "profile_stop",
	Parsing:        "parsing",
	Success:        "success",
	NoData:         "no_data",
	Failed:         "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

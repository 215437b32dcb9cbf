package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/haliliceylan/greed"
	"github.com/haliliceylan/greed/z3"
	log "github.com/sirupsen/logrus"
)

// safeMathProcs maps a high-level function name fragment to the model stub
// replacing functions whose recovered name matches it.
var safeMathProcs = map[string]func() *greed.SimProcedure{
	"safeadd": greed.NewSafeAddProcedure,
	"safesub": greed.NewSafeSubProcedure,
	"safemul": greed.NewSafeMulProcedure,
	"safediv": greed.NewSafeDivProcedure,
}

// RunCommand represents a command for exploring a decompiled contract.
type RunCommand struct{}

// NewRunCommand returns a new instance of RunCommand.
func NewRunCommand() *RunCommand {
	return &RunCommand{}
}

// Run executes the "run" subcommand.
func (cmd *RunCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("greed-run", flag.ContinueOnError)
	target := fs.String("target", "", "directory holding the decompiler's fact files")
	find := fs.String("find", "", "stop once a state reaches this statement id")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if *target == "" {
		return fmt.Errorf("target directory required")
	}

	log.SetLevel(log.InfoLevel)
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	project, err := greed.LoadProject(*target)
	if err != nil {
		return err
	}

	solver := z3.NewSolver()
	defer solver.Close()
	project.Solver = solver

	if err := installSafeMath(project); err != nil {
		return err
	}

	entryState, err := project.Factory().EntryState(greed.NewExecutionID())
	if err != nil {
		return err
	}
	simgr := project.Factory().SimulationManager(entryState)

	var findFn greed.FindFunc
	if *find != "" {
		findFn = func(s *greed.State) bool { return s.PC() == *find }
	}
	simgr.Run(findFn)

	fmt.Printf("exploration finished: %s\n", simgr.Dump())
	if found := simgr.OneFound(); found != nil {
		fmt.Println(found.Dump())
	}
	for _, state := range simgr.Errored() {
		fmt.Fprintf(os.Stderr, "state %s errored at %s: %v\n", state.XID(), state.PC(), state.Err())
	}
	return nil
}

// installSafeMath replaces every function whose recovered high-level name
// mentions a checked-arithmetic helper with its model stub.
func installSafeMath(project *greed.Project) error {
	for _, fn := range project.Functions() {
		name := strings.ToLower(fn.Name)
		if i := strings.IndexByte(name, '('); i >= 0 {
			name = name[:i]
		}
		for fragment, newProc := range safeMathProcs {
			if !strings.Contains(name, fragment) {
				continue
			}
			proc := newProc()
			if err := project.InstallSimProcedure(fn.ID, proc); err != nil {
				return err
			}
			log.Infof("installed %s over %s", proc.InternalName, fn.Name)
			break
		}
	}
	return nil
}

func (cmd *RunCommand) usage() {
	fmt.Fprintln(os.Stderr, `
usage: greed run [arguments]

Arguments:

	-target <dir>
	    Directory holding the decompiler's fact files. Required.

	-find <stmt-id>
	    Stop exploration once a state reaches this statement.

	-debug
	    Enable debug logging.
`[1:])
}

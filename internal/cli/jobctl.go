package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjper/jobd/internal/ipc"
	"github.com/tjper/jobd/internal/jobd"
	"github.com/tjper/jobd/internal/paths"
)

var jobctlSocket string

// jobctlCmd is jobctl's root command; every subcommand below attaches to
// it in init().
var jobctlCmd = &cobra.Command{
	Use:     "jobctl",
	Short:   "Control the jobd supervisor daemon",
	Version: "dev",
	Long: `Jobctl talks to a running jobd daemon over its control-plane
socket to load, unload, enable, disable, and inspect supervised jobs.`,
}

func init() {
	jobctlCmd.PersistentFlags().StringVar(&jobctlSocket, "socket", "", "path to control-plane socket (default: XDG_RUNTIME_DIR/jobd/jobd.sock)")

	jobctlCmd.AddCommand(jobctlLoadCmd, jobctlUnloadCmd, jobctlEnableCmd, jobctlDisableCmd, jobctlClearCmd, jobctlStatusCmd, jobctlListCmd)
}

// RunJobctl is the entrypoint of the jobctl CLI.
func RunJobctl() int {
	if err := jobctlCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func jobctlClient() *ipc.Client {
	path := jobctlSocket
	if path == "" {
		path = paths.SocketPath()
	}
	return ipc.NewClient(path)
}

var jobctlLoadCmd = &cobra.Command{
	Use:   "load <manifest-path>",
	Short: "Load and run a manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result jobd.StatusResult
		err := jobctlClient().Call("load", jobd.LoadParams{Path: args[0]}, &result)
		if err != nil {
			return err
		}
		printStatus(args[0], result)
		return nil
	},
}

var jobctlUnloadCmd = &cobra.Command{
	Use:   "unload <label>",
	Short: "Unload a job, stopping it if running",
	Args:  cobra.ExactArgs(1),
	RunE:  jobctlLabelCommand("unload"),
}

var jobctlEnableCmd = &cobra.Command{
	Use:   "enable <label>",
	Short: "Mark a job eligible to run",
	Args:  cobra.ExactArgs(1),
	RunE:  jobctlLabelCommand("enable"),
}

var jobctlDisableCmd = &cobra.Command{
	Use:   "disable <label>",
	Short: "Mark a job ineligible to run",
	Args:  cobra.ExactArgs(1),
	RunE:  jobctlLabelCommand("disable"),
}

var jobctlClearCmd = &cobra.Command{
	Use:   "clear <label>",
	Short: "Clear a job's fault, restoring its schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  jobctlLabelCommand("clear"),
}

var jobctlStatusCmd = &cobra.Command{
	Use:   "status <label>",
	Short: "Show a job's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result jobd.StatusResult
		err := jobctlClient().Call("status", jobd.LabelParams{Label: args[0]}, &result)
		if err != nil {
			return err
		}
		printStatus(args[0], result)
		return nil
	},
}

var jobctlListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every loaded job",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		result := make(map[string]jobd.StatusResult)
		if err := jobctlClient().Call("list", struct{}{}, &result); err != nil {
			return err
		}
		for label, status := range result {
			printStatus(label, status)
		}
		return nil
	},
}

// jobctlLabelCommand builds a RunE for the four subcommands that send
// only a label and print nothing on success.
func jobctlLabelCommand(method string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return jobctlClient().Call(method, jobd.LabelParams{Label: args[0]}, nil)
	}
}

func printStatus(label string, s jobd.StatusResult) {
	fault := "-"
	if s.Fault != nil {
		fault = s.Fault.Kind.String()
	}
	fmt.Printf("%s\tstate=%s\tpid=%d\tenabled=%t\tfault=%s\n", label, s.State, s.Pid, s.Enabled, fault)
}

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hiveswarm/hive/internal/facade"
	"github.com/hiveswarm/hive/internal/types"
)

var (
	registerProgram string
	registerModel   string
	registerTask    string
)

var registerCmd = &cobra.Command{
	Use:   "register [name]",
	Short: "Register this agent with the swarm, generating a name if omitted",
	Args:  cobra.MaximumNArgs(1),
	RunE: withFacadeShutdown(func(ctx context.Context, f *facade.Facade, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		agent, err := f.RegisterAgent(ctx, types.RegisterAgentArgs{
			AgentName:       name,
			Program:         registerProgram,
			Model:           registerModel,
			TaskDescription: registerTask,
		})
		return outputResult(agent, err)
	}),
}

func init() {
	registerCmd.Flags().StringVar(&registerProgram, "program", "", "program/tool name running this agent")
	registerCmd.Flags().StringVar(&registerModel, "model", "", "model identifier running this agent")
	registerCmd.Flags().StringVar(&registerTask, "task", "", "short description of what this agent is working on")
}

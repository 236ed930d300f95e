package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/jward/reftrace/internal/depgraph"
	"github.com/spf13/cobra"
)

var flagLayersScope string

var layersCmd = &cobra.Command{
	Use:   "layers [path]",
	Short: "Order a project's artifacts by dependency",
	Long:  "Builds the reference graph of the project (or --scope) and assigns each artifact a layer: " +
		"1 for artifacts that reference nothing, otherwise one more than the highest layer it references. " +
		"A cyclic graph is reported as an error.",
	Args: cobra.MaximumNArgs(1),
	RunE: runLayers,
}

func init() {
	layersCmd.Flags().StringVar(&flagLayersScope, "scope", "", "limit the analysis to a subdirectory")
}

func runLayers(cmd *cobra.Command, args []string) error {
	p, err := loadProject(args)
	if err != nil {
		return outputError("layers", err)
	}
	engine, err := p.openEngine()
	if err != nil {
		return outputError("layers", err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rep, err := engine.Analyze(ctx, flagLayersScope)
	if err != nil {
		if errors.Is(err, depgraph.ErrCyclicDependency) && rep != nil {
			return outputErrorWith("layers", analysisToCLI(rep.Analysis), err)
		}
		return outputError("layers", err)
	}
	return outputResult(CLIResult{Command: "layers", Results: layersToCLI(rep)})
}

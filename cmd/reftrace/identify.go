package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <file>",
	Short: "Show the identity other artifacts use to reference a file",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return outputError("identify", err)
		}
		p, err := loadProject([]string{filepath.Dir(abs)})
		if err != nil {
			return outputError("identify", err)
		}
		p.dir = p.root
		engine, err := p.openEngine()
		if err != nil {
			return outputError("identify", err)
		}
		defer engine.Close()

		info, err := engine.Identify(abs)
		if err != nil {
			return outputError("identify", err)
		}
		return outputResult(CLIResult{Command: "identify", Results: CLIIdentity{
			Path:     info.Path,
			Identity: info.Identity,
			Source:   info.Source,
		}})
	},
}

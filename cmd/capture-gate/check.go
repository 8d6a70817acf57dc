package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <image|url>",
	Short: "Check that the vision backend can see an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gate, err := newGate()
		if err != nil {
			return err
		}
		src, err := gate.Processor().LoadSmart(args[0])
		if err != nil {
			return err
		}
		reply, err := gate.CheckVision(cmd.Context(), src.Image)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s): %s\n", cfg.Vision.Model, cfg.Vision.Backend, reply)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// Command dthreads is a small demo/debugging CLI around the dthreads
// package: it creates a region, spawns worker subprocesses that each
// run a transaction against it concurrently, and prints the merged
// result.
//
// Modeled on hivectl's cobra structure (joshuapare-hivekit/cmd/hivectl),
// replacing the teacher's flag-based codegen CLI (cmd/mmapforge/main.go).
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Mic92/dthreads"
)

var rootCmd = &cobra.Command{
	Use:     "dthreads",
	Short:   "Create and drive a process-level transactional memory region",
	Version: "0.1.0",
}

func main() {
	rootCmd.AddCommand(demoCmd, workerCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var demoWorkers int
var demoSize int

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Create a region and spawn N workers, each incrementing the same counter",
	RunE: func(cmd *cobra.Command, args []string) error {
		region, err := dthreads.New(demoSize)
		if err != nil {
			return fmt.Errorf("create region: %w", err)
		}
		defer region.Close()

		stop := region.ServeSignals(cmd.Context())
		defer stop()

		exe, err := os.Executable()
		if err != nil {
			return err
		}

		// Every worker is started eagerly so they race for page ownership
		// concurrently; errgroup waits for all of them to exit, surfacing
		// the first failed wait or non-zero exit as the group's error.
		var g errgroup.Group
		for i := 0; i < demoWorkers; i++ {
			c, err := region.Spawn(exe, "worker", strconv.Itoa(i))
			if err != nil {
				return fmt.Errorf("spawn worker %d: %w", i, err)
			}
			if err := c.Start(); err != nil {
				return fmt.Errorf("start worker %d: %w", i, err)
			}
			idx, proc := i, c.Process
			g.Go(func() error {
				state, err := proc.Wait()
				if err != nil {
					return fmt.Errorf("worker %d: %w", idx, err)
				}
				if !state.Success() {
					return fmt.Errorf("worker %d: %v", idx, state)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if err := region.FinalCommit(cmd.Context()); err != nil {
			return fmt.Errorf("final commit: %w", err)
		}

		v, err := region.ReadUint64(0)
		if err != nil {
			return err
		}
		fmt.Printf("counter = %d (after %d workers)\n", v, demoWorkers)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:    "worker <index>",
	Short:  "Internal: run as a cooperating worker process (spawned by demo)",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		region, err := dthreads.JoinEnv()
		if err != nil {
			return fmt.Errorf("join region: %w", err)
		}

		if err := region.Begin(); err != nil {
			return fmt.Errorf("begin: %w", err)
		}

		v, err := region.ReadUint64(0)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := region.WriteUint64(0, v+1); err != nil {
			return fmt.Errorf("write: %w", err)
		}

		return region.Commit()
	},
}

func init() {
	demoCmd.Flags().IntVar(&demoWorkers, "workers", 4, "number of worker processes to spawn")
	demoCmd.Flags().IntVar(&demoSize, "size", 1<<20, "region size in bytes")
}

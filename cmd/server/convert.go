package main

import (
	"fmt"
	"os"
	"strings"

	"splat-orchestrator/training/splat"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func convertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <in.ply> [out.splat]",
		Short: "Convert a Gaussian splat PLY export to the .splat format",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			out := strings.TrimSuffix(in, ".ply") + ".splat"
			if len(args) == 2 {
				out = args[1]
			}

			src, err := os.Open(in)
			if err != nil {
				return err
			}
			defer src.Close()

			dst, err := os.Create(out)
			if err != nil {
				return err
			}
			n, err := splat.Convert(src, dst)
			if cerr := dst.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(out)
				return fmt.Errorf("failed to convert %s: %w", in, err)
			}

			log.Info().Str("input", in).Str("output", out).Int("gaussians", n).
				Int64("bytes", int64(n)*splat.RecordSize).Msg("converted")
			return nil
		},
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fpang/traffic-console/internal/config"
	"github.com/fpang/traffic-console/internal/naming"
	"github.com/fpang/traffic-console/internal/vectors"
)

func newJobNameCmd() *cobra.Command {
	var version string
	var at int64
	cmd := &cobra.Command{
		Use:   "jobname <input>",
		Short: "Preview the processing job name for an input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if version == "" {
				cfg, err := config.Load(cmd.Context())
				if err != nil {
					return err
				}
				version = cfg.ProcessingVersion
			}
			when := time.Now()
			if at > 0 {
				when = time.Unix(at, 0)
			}
			name := naming.DeriveJobNameAt(args[0], version, when)
			if err := naming.ValidateJobName(name); err != nil {
				return err
			}
			if wantJSON() {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"jobName":      name,
					"digest":       string(naming.Digest(args[0])),
					"vectorsKey":   naming.VectorsKey(args[0]),
					"outputPrefix": naming.OutputPrefixFor(args[0], when),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "processing version (default PROCESSING_VERSION)")
	cmd.Flags().Int64Var(&at, "at", 0, "epoch seconds to derive the name at (default now)")
	return cmd
}

func newVectorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vectors",
		Short: "Convert direction vector files",
	}

	var fromShapes bool
	encode := &cobra.Command{
		Use:   "encode [file]",
		Short: "Encode JSON vectors into the vector file format",
		Long: `Reads JSON from the file or stdin and prints the vector file.

Default input maps a direction to x1,y1,x2,y2:
  {"N": [10, 20, 10, 200]}

With --from-shapes the input is a canvas drawing and its labels:
  {"shapes": [{"left": 5, "top": 10, "x1": 5, "y1": 10, "x2": 5, "y2": 190}], "labels": ["N"]}`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			text, err := encodeVectors(data, fromShapes)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	encode.Flags().BoolVar(&fromShapes, "from-shapes", false, "input is canvas shapes plus labels")

	decode := &cobra.Command{
		Use:   "decode [file]",
		Short: "Print a vector file as a table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			set, err := vectors.ParseText(string(data))
			if err != nil {
				return err
			}
			if wantJSON() {
				return writeJSON(cmd.OutOrStdout(), set)
			}
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Direction", "Start", "End")
			for _, v := range set {
				table.Append(
					string(v.Direction),
					point(v.Segment.Start),
					point(v.Segment.End),
				)
			}
			return table.Render()
		},
	}

	cmd.AddCommand(encode, decode)
	return cmd
}

func encodeVectors(data []byte, fromShapes bool) (string, error) {
	if fromShapes {
		var in struct {
			Shapes []vectors.LineShape `json:"shapes"`
			Labels []string            `json:"labels"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return "", fmt.Errorf("parse shapes: %w", err)
		}
		set, err := vectors.Label(vectors.LinesToVectors(in.Shapes), in.Labels)
		if err != nil {
			return "", err
		}
		return set.Text(), nil
	}

	var in map[string][4]float64
	if err := json.Unmarshal(data, &in); err != nil {
		return "", fmt.Errorf("parse vectors: %w", err)
	}
	m := make(map[vectors.Direction]vectors.Segment, len(in))
	for label, c := range in {
		d, err := vectors.ParseDirection(label)
		if err != nil {
			return "", err
		}
		m[d] = vectors.Segment{
			Start: vectors.Point{X: c[0], Y: c[1]},
			End:   vectors.Point{X: c[2], Y: c[3]},
		}
	}
	return vectors.VectorsToText(m), nil
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args[0], err)
	}
	return data, nil
}

func point(p vectors.Point) string {
	return strconv.Itoa(int(p.X)) + "," + strconv.Itoa(int(p.Y))
}

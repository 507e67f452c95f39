package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/colorfulnotion/worldstate/common"
	"github.com/colorfulnotion/worldstate/forest"
	log "github.com/colorfulnotion/worldstate/log"
	"github.com/colorfulnotion/worldstate/merkle"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func initCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the image if needed and print every tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withForest(cmd, v, func(ctx context.Context, f *forest.Forest) error {
				return printTrees(ctx, cmd.OutOrStdout(), f)
			})
		},
	}
}

func getCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "get <tree> <index>",
		Short: "Print a leaf value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withForest(cmd, v, func(ctx context.Context, f *forest.Forest) error {
				tree, index, err := treeAndIndex(f, args)
				if err != nil {
					return err
				}
				value, err := f.Get(ctx, tree, index)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), common.Bytes2Hex(value))
				return nil
			})
		},
	}
}

func putCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "put <tree> <index> <hex value>",
		Short: "Write a leaf value and commit",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withForest(cmd, v, func(ctx context.Context, f *forest.Forest) error {
				tree, index, err := treeAndIndex(f, args)
				if err != nil {
					return err
				}
				value, err := parseValue(args[2], f.Trees()[tree].LeafWidth)
				if err != nil {
					return err
				}
				root, err := f.Put(ctx, tree, index, value)
				if err != nil {
					return err
				}
				if err := f.Commit(ctx); err != nil {
					return err
				}
				log.Info(log.CLIMonitoring, "leaf written", "tree", f.Trees()[tree].Name, "index", index.Dec(), "root", root)
				fmt.Fprintln(cmd.OutOrStdout(), root.Hex())
				return nil
			})
		},
	}
}

func rootsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "root [tree]",
		Short: "Print the root of one tree or of every tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withForest(cmd, v, func(ctx context.Context, f *forest.Forest) error {
				if len(args) == 0 {
					return printTrees(ctx, cmd.OutOrStdout(), f)
				}
				tree, err := parseTree(f, args[0])
				if err != nil {
					return err
				}
				root, err := f.GetRoot(ctx, tree)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), root.Hex())
				return nil
			})
		},
	}
}

func sizeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "size <tree>",
		Short: "Print the number of leaf slots written",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withForest(cmd, v, func(ctx context.Context, f *forest.Forest) error {
				tree, err := parseTree(f, args[0])
				if err != nil {
					return err
				}
				size, err := f.GetSize(ctx, tree)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), size.Dec())
				return nil
			})
		},
	}
}

type pathOutput struct {
	Tree     string          `json:"tree"`
	Index    string          `json:"index"`
	Value    string          `json:"value"`
	Root     common.Hash     `json:"root"`
	Verified bool            `json:"verified"`
	Path     merkle.HashPath `json:"path"`
}

func pathCmd(v *viper.Viper) *cobra.Command {
	var against string
	cmd := &cobra.Command{
		Use:   "path <tree> <index>",
		Short: "Print the hash path of a leaf as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if against != "" {
				if b, err := common.FromHex(against); err != nil || len(b) != common.HashLength {
					return fmt.Errorf("invalid root %q", against)
				}
			}
			return withForest(cmd, v, func(ctx context.Context, f *forest.Forest) error {
				tree, index, err := treeAndIndex(f, args)
				if err != nil {
					return err
				}
				value, err := f.Get(ctx, tree, index)
				if err != nil {
					return err
				}
				root, err := f.GetRoot(ctx, tree)
				if err != nil {
					return err
				}
				if against != "" {
					root = common.HexToHash(against)
				}
				path, err := f.GetHashPath(ctx, tree, index)
				if err != nil {
					return err
				}
				h, err := f.Hasher(tree)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(pathOutput{
					Tree:     f.Trees()[tree].Name,
					Index:    index.Dec(),
					Value:    common.Bytes2Hex(value),
					Root:     root,
					Verified: path.Verify(h, f.Trees()[tree].Depth, index, value, root),
					Path:     path,
				})
			})
		},
	}
	cmd.Flags().StringVar(&against, "root", "", "verify against this root instead of the current one")
	return cmd
}

func fillCmd(v *viper.Viper) *cobra.Command {
	var (
		count   int
		start   uint64
		workers int
		seed    int64
	)
	cmd := &cobra.Command{
		Use:   "fill <tree>",
		Short: "Write pseudo-random leaves from concurrent callers and commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers < 1 {
				return fmt.Errorf("workers must be at least 1")
			}
			return withForest(cmd, v, func(ctx context.Context, f *forest.Forest) error {
				tree, err := parseTree(f, args[0])
				if err != nil {
					return err
				}
				width := f.Trees()[tree].LeafWidth
				began := time.Now()

				g, gctx := errgroup.WithContext(ctx)
				for w := 0; w < workers; w++ {
					g.Go(func() error {
						for i := w; i < count; i += workers {
							index := new(uint256.Int).AddUint64(uint256.NewInt(start), uint64(i))
							if _, err := f.Put(gctx, tree, index, fillValue(seed, index, width)); err != nil {
								return err
							}
						}
						return nil
					})
				}
				if err := g.Wait(); err != nil {
					if rbErr := f.Rollback(context.Background()); rbErr != nil {
						log.Error(log.CLIMonitoring, "rollback after failed fill", "err", rbErr)
					}
					return err
				}
				if err := f.Commit(ctx); err != nil {
					return err
				}
				root, err := f.GetRoot(ctx, tree)
				if err != nil {
					return err
				}
				log.Info(log.CLIMonitoring, "fill committed", "tree", f.Trees()[tree].Name, "leaves", count, "workers", workers, "elapsed", time.Since(began))
				fmt.Fprintln(cmd.OutOrStdout(), root.Hex())
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1024, "Number of leaves to write")
	cmd.Flags().Uint64Var(&start, "start", 0, "First index")
	cmd.Flags().IntVarP(&workers, "workers", "w", 8, "Concurrent callers")
	cmd.Flags().Int64Var(&seed, "seed", 1, "Seed for leaf values")
	return cmd
}

func destroyCmd(v *viper.Viper) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Wipe the image and write genesis again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to destroy %s without --yes", v.GetString(keyDB))
			}
			return withForest(cmd, v, func(ctx context.Context, f *forest.Forest) error {
				if err := f.Destroy(ctx); err != nil {
					return err
				}
				return printTrees(ctx, cmd.OutOrStdout(), f)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the wipe")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and commit",
		Args:  cobra.NoArgs,
		// Skip config, logging and telemetry set up.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "worldstate %s (commit %s)\n", Version, common.GetCommitHash())
		},
	}
}

// fillValue derives the value for index from seed, so the result does not
// depend on how indices are spread over workers.
func fillValue(seed int64, index *uint256.Int, width int) []byte {
	idx := index.Bytes32()
	out := make([]byte, 0, width+common.HashLength)
	for chunk := uint32(0); len(out) < width; chunk++ {
		buf := binary.BigEndian.AppendUint64(nil, uint64(seed))
		buf = append(buf, idx[:]...)
		buf = binary.BigEndian.AppendUint32(buf, chunk)
		out = append(out, common.ComputeHash(buf)...)
	}
	return out[:width]
}

func treeAndIndex(f *forest.Forest, args []string) (forest.TreeID, *uint256.Int, error) {
	tree, err := parseTree(f, args[0])
	if err != nil {
		return 0, nil, err
	}
	index, err := parseIndex(args[1])
	if err != nil {
		return 0, nil, fmt.Errorf("invalid index %q: %w", args[1], err)
	}
	return tree, index, nil
}

// printTrees prints one line per tree.
func printTrees(ctx context.Context, out io.Writer, f *forest.Forest) error {
	for i, tc := range f.Trees() {
		id := forest.TreeID(i)
		root, err := f.GetRoot(ctx, id)
		if err != nil {
			return err
		}
		size, err := f.GetSize(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d %-10s depth=%-3d size=%-8s root=%s\n", i, tc.Name, tc.Depth, size.Dec(), root.Hex())
	}
	return nil
}

// Command smtctl drives a Badger-backed sparse Merkle tree from the shell.
// It exists purely to exercise the smt package's public API; it contains no
// tree algorithm of its own.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nilmap/smt/smt"
)

const (
	success = 0
	failure = 1
)

// rootMetaKey is the fixed key the current root digest is persisted under,
// in its own prefix so it can never collide with a node digest or a value
// path. Each smtctl invocation is a fresh process with no in-memory tree
// state, so the root has to round-trip through the database between
// invocations or every command after the first would start from the
// placeholder root and find nothing.
var rootMetaKey = []byte("current")

var (
	flagDataDir string
	flagLevel   string
	flagHash    string
	flagConfig  string

	log zerolog.Logger
	db  *badger.DB
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:           "smtctl",
		Short:         "Inspect and mutate a Badger-backed sparse Merkle tree",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if db != nil {
				_ = db.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&flagDataDir, "data-dir", "./smt-data", "Badger database directory")
	root.PersistentFlags().StringVar(&flagLevel, "level", "info", "log output level")
	root.PersistentFlags().StringVar(&flagHash, "hash", "keccak256", "tree hash function: keccak256 or sha256")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "optional config file overriding the flags above")

	root.AddCommand(putCommand())
	root.AddCommand(getCommand())
	root.AddCommand(deleteCommand())
	root.AddCommand(rootCommand())
	root.AddCommand(proveCommand())
	root.AddCommand(verifyCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return failure
	}
	return success
}

func setup() error {
	if flagConfig != "" {
		viper.SetConfigFile(flagConfig)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("could not read config file: %w", err)
		}
		if v := viper.GetString("data-dir"); v != "" {
			flagDataDir = v
		}
		if v := viper.GetString("level"); v != "" {
			flagLevel = v
		}
		if v := viper.GetString("hash"); v != "" {
			flagHash = v
		}
	}

	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	level, err := zerolog.ParseLevel(flagLevel)
	if err != nil {
		return fmt.Errorf("could not parse log level %q: %w", flagLevel, err)
	}
	log = log.Level(level)

	opts := badger.DefaultOptions(flagDataDir).WithLogger(nil)
	db, err = badger.Open(opts)
	if err != nil {
		return fmt.Errorf("could not open badger database at %q: %w", flagDataDir, err)
	}
	return nil
}

func hashConstructor() func() hash.Hash {
	switch flagHash {
	case "sha256":
		return smt.NewSHA256Hasher()
	default:
		return smt.NewKeccak256Hasher()
	}
}

func hashOption() smt.Option {
	return smt.WithHasher(hashConstructor())
}

func metaStore() *smt.BadgerStore {
	return smt.NewBadgerStore(db, []byte("m:"))
}

// openTree reopens the tree at whatever root the previous invocation left
// behind, falling back to a fresh, empty tree the first time smtctl runs
// against a given data directory.
func openTree() *smt.Tree {
	nodes := smt.NewBadgerStore(db, []byte("n:"))
	values := smt.NewBadgerStore(db, []byte("v:"))
	opts := []smt.Option{hashOption(), smt.WithLogger(log)}

	root, err := metaStore().Get(rootMetaKey)
	if err != nil {
		if !errors.Is(err, smt.ErrKeyNotFound) {
			log.Warn().Err(err).Msg("could not load persisted root, starting from an empty tree")
		}
		return smt.New(nodes, values, opts...)
	}
	return smt.Import(nodes, values, root, opts...)
}

// saveRoot persists root as the tree's current root, so the next smtctl
// invocation picks up where this one left off.
func saveRoot(root []byte) error {
	return metaStore().Put(rootMetaKey, root)
}

func putCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Insert or update a key's value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree := openTree()
			root, err := tree.Update([]byte(args[0]), []byte(args[1]))
			if err != nil {
				return err
			}
			if err := saveRoot(root); err != nil {
				return fmt.Errorf("could not persist new root: %w", err)
			}
			fmt.Println(hex.EncodeToString(root))
			return nil
		},
	}
}

func getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a key's value, if any",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree := openTree()
			value, err := tree.Get([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(string(value))
			return nil
		},
	}
}

func deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree := openTree()
			root, err := tree.Delete([]byte(args[0]))
			if err != nil {
				return err
			}
			if err := saveRoot(root); err != nil {
				return fmt.Errorf("could not persist new root: %w", err)
			}
			fmt.Println(hex.EncodeToString(root))
			return nil
		},
	}
}

func rootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "root",
		Short: "Print the tree's current root digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tree := openTree()
			fmt.Println(hex.EncodeToString(tree.Root()))
			return nil
		},
	}
}

func proveCommand() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "prove <key>",
		Short: "Generate a compact proof for a key against the current root, and write it to --out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree := openTree()
			proof, err := tree.ProveCompact([]byte(args[0]), tree.Root())
			if err != nil {
				return err
			}
			fmt.Printf("sidenodes=%d bitmask=%x non_membership=%x\n",
				proof.NumSideNodes, proof.Bitmask, proof.NonMembershipLeafData)

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("could not create proof file %q: %w", out, err)
			}
			defer f.Close()
			return smt.EncodeCompactProof(f, proof)
		},
	}
	cmd.Flags().StringVar(&out, "out", "proof.bin", "file to write the encoded compact proof to")
	return cmd
}

func verifyCommand() *cobra.Command {
	var in string

	cmd := &cobra.Command{
		Use:   "verify <key> [value]",
		Short: "Verify a proof file against the current root, for key mapping to value (or absence if value is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(in)
			if err != nil {
				return fmt.Errorf("could not open proof file %q: %w", in, err)
			}
			defer f.Close()

			compact, err := smt.DecodeCompactProof(f)
			if err != nil {
				return fmt.Errorf("could not decode proof file %q: %w", in, err)
			}

			newHash := hashConstructor()
			digestSize := newHash().Size()
			proof := smt.Decompact(compact, digestSize)

			var value []byte
			if len(args) == 2 {
				value = []byte(args[1])
			}

			tree := openTree()
			ok, err := smt.Verify(proof, tree.Root(), []byte(args[0]), value, newHash)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("invalid")
				return errors.New("proof does not verify against the current root")
			}
			fmt.Println("valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "proof.bin", "file to read the encoded compact proof from")
	return cmd
}

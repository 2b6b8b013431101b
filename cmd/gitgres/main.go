// Command gitgres is the peripheral CLI front-end: init/push/clone/ls-refs
// against a gitgres-backed repository, without going through the
// remote-helper line protocol. It drives the same odb/refdb calls the
// remote helper does; see cmd/git-remote-gitgres for the protocol adapter.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/src-d/go-git.v4/plumbing"

	"github.com/andrewpi/gitgres/pkg/catalog"
	"github.com/andrewpi/gitgres/pkg/dbsession"
	"github.com/andrewpi/gitgres/pkg/log"
	"github.com/andrewpi/gitgres/pkg/model"
	"github.com/andrewpi/gitgres/pkg/odb"
	"github.com/andrewpi/gitgres/pkg/oid"
	"github.com/andrewpi/gitgres/pkg/refdb"
	"github.com/andrewpi/gitgres/pkg/remotehelper"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gitgres",
	Short: "Peripheral CLI for a PostgreSQL-backed git object and ref store",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(lsRefsCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

var initCmd = &cobra.Command{
	Use:   "init <conninfo> <reponame>",
	Short: "Create the repository row if it does not already exist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		sess, err := dbsession.Connect(ctx, args[0])
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer sess.Close()

		repoID, err := catalog.EnsureRepository(ctx, sess, args[1])
		if err != nil {
			return fmt.Errorf("ensure repository: %w", err)
		}

		fmt.Printf("repository %q ready (id=%d)\n", args[1], repoID)
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <conninfo> <reponame> <local-path>",
	Short: "Copy every local object not already stored, then write local refs as DB refs",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		sess, odbBackend, refdbBackend, local, err := openAll(ctx, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		defer sess.Close()

		refs, err := local.IterObjects()
		if err != nil {
			return fmt.Errorf("iterate local objects: %w", err)
		}
		defer refs.Close()

		var copied, failed int
		if err := refs.ForEach(func(obj plumbing.EncodedObject) error {
			id, err := oid.FromBytes(obj.Hash().Bytes())
			if err != nil {
				failed++
				return nil
			}
			exists, err := odbBackend.Exists(ctx, id)
			if err != nil || exists {
				return nil
			}
			r, err := obj.Reader()
			if err != nil {
				failed++
				return nil
			}
			defer r.Close()
			content, err := io.ReadAll(r)
			if err != nil {
				failed++
				return nil
			}
			if err := odbBackend.Write(ctx, id, content, obj.Size(), model.ObjectType(obj.Type())); err != nil {
				log.WithOID(id.String()).Warn().Err(err).Msg("push: failed to write object")
				failed++
				return nil
			}
			copied++
			return nil
		}); err != nil {
			return fmt.Errorf("copy objects: %w", err)
		}

		localRefs, err := local.ListRefs()
		if err != nil {
			return fmt.Errorf("list local refs: %w", err)
		}

		var refsWritten int
		for _, lref := range localRefs {
			id, err := oid.FromBytes(lref.Hash().Bytes())
			if err != nil {
				continue
			}
			name := string(lref.Name())
			ref := model.Ref{Name: name, OID: id}
			if err := refdbBackend.Write(ctx, ref, refdb.WriteOptions{Force: true}); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to write ref %s: %v\n", name, err)
				continue
			}
			refsWritten++
		}

		fmt.Printf("✓ pushed %d objects (%d failed), %d refs\n", copied, failed, refsWritten)
		return nil
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone <conninfo> <reponame> <dest-dir>",
	Short: "Populate a local repository from the database's objects and refs",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		sess, err := dbsession.Connect(ctx, args[0])
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer sess.Close()

		repoID, err := catalog.EnsureRepository(ctx, sess, args[1])
		if err != nil {
			return fmt.Errorf("ensure repository: %w", err)
		}
		odbBackend := odb.New(sess, repoID)
		refdbBackend := refdb.New(sess, repoID)

		if err := os.MkdirAll(args[2], 0o755); err != nil {
			return fmt.Errorf("create destination: %w", err)
		}
		local, err := remotehelper.InitLocal(args[2])
		if err != nil {
			return fmt.Errorf("init local repository: %w", err)
		}

		var copied, failed int
		if err := odbBackend.Foreach(ctx, func(id oid.OID) error {
			content, _, typ, err := odbBackend.Read(ctx, id)
			if err != nil {
				log.WithOID(id.String()).Warn().Err(err).Msg("clone: failed to read object")
				failed++
				return nil
			}
			if _, err := local.WriteObject(plumbing.ObjectType(typ), content); err != nil {
				log.WithOID(id.String()).Warn().Err(err).Msg("clone: failed to write object")
				failed++
				return nil
			}
			copied++
			return nil
		}); err != nil {
			return fmt.Errorf("copy objects: %w", err)
		}

		refs, err := refdbBackend.Iterate(ctx, "")
		if err != nil {
			return fmt.Errorf("iterate refs: %w", err)
		}
		var refsWritten int
		for _, ref := range refs {
			if ref.IsSymbol || ref.Name == "HEAD" {
				continue
			}
			if err := local.SetRef(ref.Name, plumbing.Hash(ref.OID)); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to set ref %s: %v\n", ref.Name, err)
				continue
			}
			refsWritten++
		}

		fmt.Printf("✓ cloned %d objects (%d failed), %d refs\n", copied, failed, refsWritten)
		return nil
	},
}

var lsRefsCmd = &cobra.Command{
	Use:   "ls-refs <conninfo> <reponame>",
	Short: "List every ref stored for a repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		sess, err := dbsession.Connect(ctx, args[0])
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer sess.Close()

		repoID, err := catalog.EnsureRepository(ctx, sess, args[1])
		if err != nil {
			return fmt.Errorf("ensure repository: %w", err)
		}
		refdbBackend := refdb.New(sess, repoID)

		refs, err := refdbBackend.Iterate(ctx, "")
		if err != nil {
			return fmt.Errorf("iterate refs: %w", err)
		}

		for _, ref := range refs {
			if ref.IsSymbol {
				fmt.Printf("@%s %s\n", ref.Symbolic, ref.Name)
			} else {
				fmt.Printf("%s %s\n", ref.OID, ref.Name)
			}
		}
		return nil
	},
}

func openAll(ctx context.Context, conninfo, reponame, localPath string) (*dbsession.Session, *odb.Backend, *refdb.Backend, *remotehelper.LocalRepo, error) {
	sess, err := dbsession.Connect(ctx, conninfo)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect: %w", err)
	}
	repoID, err := catalog.EnsureRepository(ctx, sess, reponame)
	if err != nil {
		sess.Close()
		return nil, nil, nil, nil, fmt.Errorf("ensure repository: %w", err)
	}
	local, err := remotehelper.OpenLocal(localPath)
	if err != nil {
		sess.Close()
		return nil, nil, nil, nil, fmt.Errorf("open local repository: %w", err)
	}
	return sess, odb.New(sess, repoID), refdb.New(sess, repoID), local, nil
}

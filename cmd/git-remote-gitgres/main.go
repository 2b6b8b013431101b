// Command git-remote-gitgres is the git remote-helper binary: git invokes
// it as "git-remote-gitgres <remote-name> <url>" whenever a remote URL
// uses the "gitgres::" transport prefix, and speaks the capabilities/
// list/fetch/push line protocol with it over stdin/stdout.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andrewpi/gitgres/pkg/catalog"
	"github.com/andrewpi/gitgres/pkg/config"
	"github.com/andrewpi/gitgres/pkg/dbsession"
	"github.com/andrewpi/gitgres/pkg/log"
	"github.com/andrewpi/gitgres/pkg/odb"
	"github.com/andrewpi/gitgres/pkg/refdb"
	"github.com/andrewpi/gitgres/pkg/remotehelper"
)

func main() {
	log.Init(log.Config{Level: log.Level(levelFromEnv())})

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "git-remote-gitgres: %v\n", err)
		os.Exit(1)
	}
}

func levelFromEnv() string {
	if v := os.Getenv("GITGRES_LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}

// run parses the "<conninfo>/<reponame>" URL git passes as the second
// positional argument, connects, ensures the repository row exists, and
// runs the adapter loop over stdin/stdout.
func run(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: git-remote-gitgres <remote-name> <conninfo>/<reponame>")
	}
	url := args[1]

	conninfo, reponame, err := splitURL(url)
	if err != nil {
		return err
	}

	ctx := context.Background()

	sess, err := dbsession.Connect(ctx, conninfo)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer sess.Close()

	repoID, err := catalog.EnsureRepository(ctx, sess, reponame)
	if err != nil {
		return fmt.Errorf("ensure repository: %w", err)
	}

	odbBackend := odb.New(sess, repoID)
	refdbBackend := refdb.New(sess, repoID)

	local, err := remotehelper.OpenLocal(config.GitDir())
	if err != nil {
		return fmt.Errorf("open local repository: %w", err)
	}

	var trace io.Writer
	if path := config.TracePath(); path != "" {
		f, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if ferr != nil {
			log.WithComponent("git-remote-gitgres").Warn().Err(ferr).Str("path", path).Msg("failed to open trace file")
		} else {
			defer f.Close()
			trace = f
		}
	}

	adapter := remotehelper.New(odbBackend, refdbBackend, local, os.Stdin, os.Stdout, trace)
	return adapter.Run(ctx)
}

// splitURL parses "<conninfo>/<reponame>" by splitting on the last '/'.
// An empty repo name or an absent slash is a usage error.
func splitURL(url string) (conninfo, reponame string, err error) {
	idx := strings.LastIndexByte(url, '/')
	if idx <= 0 || idx == len(url)-1 {
		return "", "", fmt.Errorf("invalid remote URL %q: expected <conninfo>/<reponame>", url)
	}
	return url[:idx], url[idx+1:], nil
}

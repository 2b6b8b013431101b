// Package remotehelper implements the git remote-helper line protocol:
// capabilities/list/fetch/push dialogue over stdin/stdout, backed by an
// odb.Backend and refdb.Backend pair for the remote side and a
// LocalRepo for the local side.
package remotehelper

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/src-d/go-git.v4/plumbing"

	"github.com/andrewpi/gitgres/pkg/dbsession"
	"github.com/andrewpi/gitgres/pkg/log"
	"github.com/andrewpi/gitgres/pkg/metrics"
	"github.com/andrewpi/gitgres/pkg/model"
	"github.com/andrewpi/gitgres/pkg/odb"
	"github.com/andrewpi/gitgres/pkg/oid"
	"github.com/andrewpi/gitgres/pkg/refdb"
)

// Adapter drives the remote-helper dialogue for one repository.
type Adapter struct {
	ODB   *odb.Backend
	Refdb *refdb.Backend
	Local *LocalRepo

	in  *bufio.Scanner
	out io.Writer
}

// New constructs an Adapter reading commands from in and writing
// responses to out. If trace is non-nil, both directions are teed into
// it (GITGRES_TRACE).
func New(odbBackend *odb.Backend, refdbBackend *refdb.Backend, local *LocalRepo, in io.Reader, out io.Writer, trace io.Writer) *Adapter {
	if trace != nil {
		in = io.TeeReader(in, trace)
		out = io.MultiWriter(out, trace)
	}
	return &Adapter{
		ODB:   odbBackend,
		Refdb: refdbBackend,
		Local: local,
		in:    bufio.NewScanner(in),
		out:   out,
	}
}

func (a *Adapter) writeLine(format string, args ...interface{}) {
	fmt.Fprintf(a.out, format+"\n", args...)
}

func (a *Adapter) blank() {
	fmt.Fprint(a.out, "\n")
}

// Run executes the main command loop until end of input or a blank
// top-level command line.
func (a *Adapter) Run(ctx context.Context) error {
	for a.in.Scan() {
		line := a.in.Text()

		switch {
		case line == "capabilities":
			a.cmdCapabilities()
		case line == "list" || line == "list for-push":
			if err := a.cmdList(ctx); err != nil {
				return err
			}
		case strings.HasPrefix(line, "fetch "):
			if err := a.cmdFetch(ctx); err != nil {
				return err
			}
		case strings.HasPrefix(line, "push "):
			if err := a.cmdPush(ctx, line); err != nil {
				return err
			}
		case line == "":
			return nil
		default:
			log.WithComponent("remotehelper").Debug().Str("line", line).Msg("unknown command")
		}
	}
	if err := a.in.Err(); err != nil {
		return dbsession.BackendFailure.Wrap(err)
	}
	return nil
}

func (a *Adapter) cmdCapabilities() {
	a.writeLine("fetch")
	a.writeLine("push")
	a.blank()
}

// cmdList streams one line per direct ref, then one HEAD line per the
// materialization rule: symbolic HEAD whose target is in the listing
// emits "@target HEAD"; direct HEAD emits "<hex> HEAD"; otherwise the
// HEAD line is omitted.
func (a *Adapter) cmdList(ctx context.Context) error {
	refs, err := a.Refdb.Iterate(ctx, "")
	if err != nil {
		return err
	}

	var headOID oid.OID
	var hasHeadOID bool
	var headSymbolic string
	var hasHeadSymbolic bool
	listed := make(map[string]bool)

	for _, ref := range refs {
		if ref.Name == "HEAD" {
			if ref.IsSymbol {
				headSymbolic = ref.Symbolic
				hasHeadSymbolic = true
			} else {
				headOID = ref.OID
				hasHeadOID = true
			}
			continue
		}
		if !ref.IsSymbol {
			a.writeLine("%s %s", ref.OID, ref.Name)
			listed[ref.Name] = true
		}
	}

	switch {
	case hasHeadSymbolic && listed[headSymbolic]:
		a.writeLine("@%s HEAD", headSymbolic)
	case hasHeadOID:
		a.writeLine("%s HEAD", headOID)
	}

	a.blank()
	return nil
}

// cmdFetch copies every DB object not already present locally,
// preserving type. Per-object failures are non-fatal.
func (a *Adapter) cmdFetch(ctx context.Context) error {
	a.drainUntilBlank()

	var copied int
	err := a.ODB.Foreach(ctx, func(id oid.OID) error {
		h := plumbing.Hash(id)
		if a.Local.HasObject(h) {
			return nil
		}
		content, _, typ, rerr := a.ODB.Read(ctx, id)
		if rerr != nil {
			log.WithOID(id.String()).Warn().Err(rerr).Msg("fetch: failed to read remote object")
			metrics.RemoteHelperObjectCopyFailuresTotal.WithLabelValues("fetch").Inc()
			return nil
		}
		if _, werr := a.Local.WriteObject(plumbing.ObjectType(typ), content); werr != nil {
			log.WithOID(id.String()).Warn().Err(werr).Msg("fetch: failed to write local object")
			metrics.RemoteHelperObjectCopyFailuresTotal.WithLabelValues("fetch").Inc()
			return nil
		}
		copied++
		return nil
	})
	if err != nil {
		return err
	}

	metrics.RemoteHelperFetchObjectsTotal.Add(float64(copied))
	log.WithComponent("remotehelper").Debug().Int("copied", copied).Msg("fetch complete")

	a.blank()
	return nil
}

// cmdPush reads the remaining push lines, copies all local objects not
// present remotely, then applies each ref-spec as a DB ref upsert or
// delete, emitting "ok <dst>" / "error <dst> <reason>" per spec.
func (a *Adapter) cmdPush(ctx context.Context, first string) error {
	var specs []PushSpec
	specs = append(specs, ParsePushSpec(strings.TrimPrefix(first, "push ")))

	for a.in.Scan() {
		line := a.in.Text()
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "push ") {
			specs = append(specs, ParsePushSpec(strings.TrimPrefix(line, "push ")))
		}
	}

	if err := a.copyLocalObjectsToRemote(ctx); err != nil {
		return err
	}

	var anySucceeded bool
	var firstDst string

	for _, spec := range specs {
		if spec.Src == "" {
			if err := a.Refdb.Delete(ctx, spec.Dst, refdb.WriteOptions{Force: true}); err != nil && !dbsession.IsNotFound(err) {
				a.writeLine("error %s %s", spec.Dst, err.Error())
				continue
			}
			a.writeLine("ok %s", spec.Dst)
			anySucceeded = true
			if firstDst == "" {
				firstDst = spec.Dst
			}
			continue
		}

		h, err := a.Local.ResolveAny(spec.Src)
		if err != nil {
			a.writeLine("error %s %s", spec.Dst, err.Error())
			continue
		}
		id, err := oid.FromBytes(h[:])
		if err != nil {
			a.writeLine("error %s %s", spec.Dst, err.Error())
			continue
		}

		// Both forced and fast-forward pushes upsert the DB ref
		// unconditionally: the remote-helper protocol relies on the
		// client (git) to have already decided fast-forward safety
		// before sending the push line, same as the C original.
		ref := model.Ref{Name: spec.Dst, OID: id}
		if err := a.Refdb.Write(ctx, ref, refdb.WriteOptions{Force: true}); err != nil {
			a.writeLine("error %s %s", spec.Dst, err.Error())
			continue
		}
		a.writeLine("ok %s", spec.Dst)
		anySucceeded = true
		if firstDst == "" {
			firstDst = spec.Dst
		}
	}

	if anySucceeded {
		if _, err := a.Refdb.Lookup(ctx, "HEAD"); dbsession.IsNotFound(err) {
			headRef := model.Ref{Name: "HEAD", Symbolic: firstDst, IsSymbol: true}
			_ = a.Refdb.Write(ctx, headRef, refdb.WriteOptions{Force: true})
		}
	}

	a.blank()
	return nil
}

func (a *Adapter) copyLocalObjectsToRemote(ctx context.Context) error {
	iter, err := a.Local.IterObjects()
	if err != nil {
		return err
	}
	defer iter.Close()

	var copied int
	err = iter.ForEach(func(obj plumbing.EncodedObject) error {
		id, oerr := oid.FromBytes(obj.Hash().Bytes())
		if oerr != nil {
			return nil
		}
		exists, eerr := a.ODB.Exists(ctx, id)
		if eerr != nil || exists {
			return nil
		}

		r, rerr := obj.Reader()
		if rerr != nil {
			metrics.RemoteHelperObjectCopyFailuresTotal.WithLabelValues("push").Inc()
			return nil
		}
		defer r.Close()
		content, rerr := io.ReadAll(r)
		if rerr != nil {
			metrics.RemoteHelperObjectCopyFailuresTotal.WithLabelValues("push").Inc()
			return nil
		}

		typ := model.ObjectType(obj.Type())
		if werr := a.ODB.Write(ctx, id, content, obj.Size(), typ); werr != nil {
			log.WithOID(id.String()).Warn().Err(werr).Msg("push: failed to write remote object")
			metrics.RemoteHelperObjectCopyFailuresTotal.WithLabelValues("push").Inc()
			return nil
		}
		copied++
		return nil
	})
	metrics.RemoteHelperPushObjectsTotal.Add(float64(copied))
	return err
}

func (a *Adapter) drainUntilBlank() {
	for a.in.Scan() {
		if a.in.Text() == "" {
			return
		}
	}
}

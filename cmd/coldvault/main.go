// Command coldvault is a thin stdlib-flag front end over pkg/engine.
// Command-line parsing proper, progress-reporting UI and the real remote
// transport are external collaborators per spec.md §1; this binary exists
// to exercise the engine end to end against a local-directory destination.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/coldvault/pkg/backup"
	"github.com/cuemby/coldvault/pkg/config"
	"github.com/cuemby/coldvault/pkg/cverrors"
	"github.com/cuemby/coldvault/pkg/engine"
	"github.com/cuemby/coldvault/pkg/log"
	"github.com/cuemby/coldvault/pkg/restore"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return cverrors.ExitErrors
	}

	op := args[0]
	rest := args[1:]

	global := flag.NewFlagSet("coldvault", flag.ContinueOnError)
	catalogPath := global.String("catalog", "./coldvault.db", "path to the local catalog database")
	destDir := global.String("dest", "./coldvault-data", "local directory acting as the backup destination")
	configPath := global.String("config", "", "optional YAML config file overriding defaults")
	logLevel := global.String("log-level", "info", "log level (debug, info, warn, error)")

	// Re-parse global flags from whatever remains after the operation's
	// own flags consume their share; FlagSet.Parse stops at the first
	// non-flag argument so operation-specific flags must be parsed first.
	opFlags, opArgs := parseOperationFlags(op, rest, global)
	if opFlags == nil {
		return cverrors.ExitErrors
	}
	if err := global.Parse(opArgs); err != nil {
		return cverrors.ExitErrors
	}

	log.Init(log.Config{Level: log.Level(*logLevel)})

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			return cverrors.ExitFatal
		}
		cfg = loaded
	}
	cfg.CatalogPath = *catalogPath

	backend, err := newDirBackend(*destDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open destination: %v\n", err)
		return cverrors.ExitFatal
	}

	e, err := engine.Open(cfg, backend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open engine: %v\n", err)
		return cverrors.ExitCode(err)
	}
	defer e.Close()

	ctx := context.Background()
	if err := dispatch(ctx, e, op, opFlags); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", op, err)
		return cverrors.ExitCode(err)
	}
	return cverrors.ExitSuccess
}

// operationFlags bundles one operation's own flag values, already parsed,
// so dispatch doesn't need to know about flag.FlagSet.
type operationFlags struct {
	sources    []string
	filesetID  int64
	before     string
	policy     bool
	pathPrefix string
	targetDir  string
	overwrite  bool
	sample     int
	targets    []string
}

func parseOperationFlags(op string, args []string, global *flag.FlagSet) (*operationFlags, []string) {
	fs := flag.NewFlagSet(op, flag.ContinueOnError)
	var sources sourceList
	fs.Var(&sources, "source", "source path to back up (repeatable)")
	filesetID := fs.Int64("fileset", 0, "target fileset id")
	before := fs.String("before", "", "delete filesets older than this RFC3339 timestamp")
	policy := fs.Bool("policy", false, "apply the configured retention policy")
	pathPrefix := fs.String("prefix", "", "restrict listing/restore to this path prefix")
	targetDir := fs.String("target", "", "restore target directory")
	overwrite := fs.Bool("overwrite", false, "overwrite existing files on restore")
	sample := fs.Int("sample", 1, "number of Blocks volumes to sample for test()")
	var targets sourceList
	fs.Var(&targets, "path", "path to check with list-affected (repeatable)")
	global.VisitAll(func(f *flag.Flag) { fs.Var(f.Value, f.Name, f.Usage) })

	if err := fs.Parse(args); err != nil {
		return nil, nil
	}

	return &operationFlags{
		sources:    []string(sources),
		filesetID:  *filesetID,
		before:     *before,
		policy:     *policy,
		pathPrefix: *pathPrefix,
		targetDir:  *targetDir,
		overwrite:  *overwrite,
		sample:     *sample,
		targets:    []string(targets),
	}, fs.Args()
}

type sourceList []string

func (s *sourceList) String() string { return strings.Join(*s, ",") }
func (s *sourceList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func dispatch(ctx context.Context, e *engine.Engine, op string, f *operationFlags) error {
	switch op {
	case "backup":
		res, err := e.Backup(ctx, backup.Options{Sources: f.sources})
		if err != nil {
			return err
		}
		fmt.Printf("fileset %d: %d added, %d modified, %d new blocks, %d duplicate blocks\n",
			res.FilesetID, res.Stats.AddedFiles, res.Stats.ModifiedFiles, res.NewBlocks, res.DuplicateBlocks)
		return nil

	case "restore":
		res, err := e.Restore(ctx, restore.Options{
			FilesetID:  f.filesetID,
			TargetDir:  f.targetDir,
			PathPrefix: f.pathPrefix,
			Overwrite:  f.overwrite,
		})
		if err != nil {
			return err
		}
		fmt.Printf("restored %d files to %s\n", res.FilesRestored, f.targetDir)
		return nil

	case "delete":
		opts := engine.DeleteOptions{FilesetID: f.filesetID, Policy: f.policy}
		if f.before != "" {
			t, err := time.Parse(time.RFC3339, f.before)
			if err != nil {
				return fmt.Errorf("parse -before: %w", err)
			}
			opts.Before = t
		}
		res, err := e.Delete(ctx, opts)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d filesets, orphaned %d file lookups\n", res.FilesetsDeleted, res.FileLookupsOrphaned)
		return nil

	case "compact":
		res, err := e.Compact(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("retention dropped %d filesets; rewrite compacted %d volumes\n",
			res.Retention.FilesetsDeleted, res.Rewrite.VolumesCompacted)
		return nil

	case "test":
		res, err := e.Test(ctx, engine.TestOptions{SampleCount: f.sample})
		if err != nil {
			return err
		}
		issues := len(res.Consistency.OrphanBlocks) + len(res.Consistency.DanglingEntries) +
			len(res.Consistency.DanglingBlocklists) + len(res.Consistency.UnreferencedFileRows) +
			len(res.Consistency.BadBlocksetLength) + len(res.Consistency.MisSizedBlocks) + len(res.Consistency.BadHashLength)
		fmt.Printf("consistency: %d issues; sampled %d volumes, verified %d, %d broken\n",
			issues, res.VolumesSampled, res.VolumesVerified, len(res.Broken))
		return nil

	case "repair":
		res, err := e.Repair(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("recreated %d filesets, %d blocks\n", res.FilesetsRecreated, res.BlocksRecreated)
		return nil

	case "list":
		res, err := e.List(ctx, engine.ListOptions{FilesetID: f.filesetID, PathPrefix: f.pathPrefix})
		if err != nil {
			return err
		}
		for _, file := range res.Files {
			fmt.Println(file.Path)
		}
		return nil

	case "list-broken":
		paths, err := e.ListBroken(ctx)
		if err != nil {
			return err
		}
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil

	case "purge-broken-files":
		n, err := e.PurgeBrokenFiles(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d broken files\n", n)
		return nil

	case "list-affected":
		res, err := e.ListAffected(ctx, f.targets)
		if err != nil {
			return err
		}
		for _, r := range res {
			ids := make([]string, len(r.FilesetIDs))
			for i, id := range r.FilesetIDs {
				ids[i] = strconv.FormatInt(id, 10)
			}
			fmt.Printf("%s: %s\n", r.Path, strings.Join(ids, ","))
		}
		return nil

	default:
		usage()
		return fmt.Errorf("unknown operation %q", op)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: coldvault <operation> [operation flags] [global flags]

operations:
  backup    -source PATH [-source PATH ...]
  restore   -fileset ID -target DIR [-prefix PREFIX] [-overwrite]
  delete    [-fileset ID | -before RFC3339 | -policy]
  compact
  test      [-sample N]
  repair
  list      [-fileset ID] [-prefix PREFIX]
  list-broken
  purge-broken-files
  list-affected -path PATH [-path PATH ...]

global flags: -catalog PATH -dest DIR -config FILE -log-level LEVEL`)
}

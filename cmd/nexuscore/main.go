// Binary nexuscore drives the kernel core's test harness: for
// each ABI variant it launches every listed program under
// /<abi>/basic/<name> and waits for it to finish, then stops the scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/xingmin1/NexusOS-sub000/internal/errs"
	"github.com/xingmin1/NexusOS-sub000/internal/kernel"
	"github.com/xingmin1/NexusOS-sub000/internal/rt"
)

var log = logrus.WithField("subsystem", "nexuscore")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(runCmd), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

// manifest is the test-harness command sequence, either the hard-coded
// default below or a TOML override.
type manifest struct {
	Abi   []string `toml:"abi"`
	Tasks []string `toml:"tasks"`
}

// defaultManifest mirrors the original kernel's hard-coded TYPE_MAP/TASKS
// pair, trimmed to the syscalls this core actually dispatches.
func defaultManifest() manifest {
	return manifest{
		Abi:   []string{"glibc", "musl"},
		Tasks: []string{"clone", "execve", "exit", "getpid", "getppid", "wait", "brk", "mmap", "munmap"},
	}
}

func loadManifest(path string) (manifest, error) {
	if path == "" {
		return defaultManifest(), nil
	}
	var m manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return manifest{}, fmt.Errorf("nexuscore: decode manifest %s: %w", path, err)
	}
	if len(m.Abi) == 0 || len(m.Tasks) == 0 {
		return manifest{}, fmt.Errorf("nexuscore: manifest %s must set abi and tasks", path)
	}
	return m, nil
}

// fileLoader resolves a harness path (e.g. "/glibc/basic/clone") to an ELF
// image on disk rooted at a local directory, standing in for the real
// filesystem this kernel core does not implement.
type fileLoader struct {
	root string
}

func (l *fileLoader) LoadImage(path string) ([]byte, error) {
	full := filepath.Join(l.root, filepath.FromSlash(path))
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, errs.New(errs.ENOENT, fmt.Sprintf("load image %s: %v", path, err))
	}
	return data, nil
}

type runCmd struct {
	manifestPath string
	root         string
	cpus         int64
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run the hard-coded (or manifest-driven) basic test sequence" }
func (*runCmd) Usage() string {
	return "run [-manifest file] [-root dir] [-cpus n]\n"
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.manifestPath, "manifest", "", "TOML manifest overriding the default abi/tasks sequence")
	f.StringVar(&c.root, "root", ".", "directory programs named /<abi>/basic/<name> are resolved under")
	f.Int64Var(&c.cpus, "cpus", 4, "number of simulated CPUs the scheduler may run concurrently")
}

func (c *runCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	m, err := loadManifest(c.manifestPath)
	if err != nil {
		log.WithError(err).Error("failed to load manifest")
		return subcommands.ExitFailure
	}

	sched := rt.NewSimScheduler(c.cpus)
	alloc := rt.NewSimFrameAllocator()
	loader := &fileLoader{root: c.root}

	failed := false
	for _, abi := range m.Abi {
		log.Infof("#### OS COMP TEST GROUP START basic-%s ####", abi)
		g, gctx := errgroup.WithContext(ctx)
		for _, task := range m.Tasks {
			task := task
			path := fmt.Sprintf("/%s/basic/%s", abi, task)
			log.Infof("Testing %s :", task)
			_, handle, err := kernel.NewThreadBuilder(loader, sched, alloc).Path(path).Spawn()
			if err != nil {
				log.WithError(err).WithField("path", path).Warn("spawn failed")
				failed = true
				continue
			}
			g.Go(func() error { return handle.Join(gctx) })
		}
		if err := g.Wait(); err != nil {
			log.WithError(err).WithField("abi", abi).Warn("group task failed")
			failed = true
		}
		log.Infof("#### OS COMP TEST GROUP END basic-%s ####", abi)
	}

	sched.Stop()
	if failed {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

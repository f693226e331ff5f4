package sync

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	goSync "sync"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/vitasync/vitasync/cmd/util"
	"github.com/vitasync/vitasync/pkg/config"
	"github.com/vitasync/vitasync/pkg/errors"
	"github.com/vitasync/vitasync/pkg/fswatch"
	"github.com/vitasync/vitasync/pkg/progress"
	"github.com/vitasync/vitasync/pkg/remote"
	"github.com/vitasync/vitasync/pkg/sync"
	"github.com/vitasync/vitasync/pkg/version"
)

var fs = afero.NewOsFs()

// New creates a new `sync` command.
func New() *cobra.Command {
	var verbose bool
	var showProgress bool
	var watchMode bool
	cobraCmd := &cobra.Command{
		Use:   "sync <endpoint> [endpoint] <merged-dir>",
		Short: "Synchronize savedata between FTP endpoints and a local merged tree",
		Long: `Pull the savedata tree from each endpoint, merge it into the local
merged tree with last-modification-wins semantics, and push the merged tree
back to every endpoint.

The merged tree is durable across runs; per-endpoint staging trees are
created fresh each run and removed afterwards.`,
		Run: func(_ *cobra.Command, args []string) {
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
			if err := run(args, showProgress, watchMode); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	flags := cobraCmd.Flags()
	flags.BoolVarP(&verbose, "verbose", "v", false,
		"Log each file as it's considered.")
	flags.BoolVarP(&showProgress, "progress", "p", false,
		"Display a progress bar. Costs an extra pass over each remote tree.")
	flags.BoolVar(&watchMode, "watch", false,
		"After syncing, push again whenever the merged tree changes.")
	return cobraCmd
}

func run(args []string, showProgress, watchMode bool) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.NewFriendlyError(
			"Provide one or two FTP endpoints followed by the merged directory.\n" +
				"For example: vitasync sync 192.168.1.5 ~/vita-saves")
	}

	cfg, err := config.Parse()
	if err != nil {
		return errors.WithContext(err, "parse config")
	}

	if err := cfg.CheckVersion(version.Version); err != nil {
		return err
	}

	mergedDir, err := homedir.Expand(args[len(args)-1])
	if err != nil {
		return errors.WithContext(err, "expand merged directory")
	}

	pipeline := pipeline{
		endpoints:    args[:len(args)-1],
		mergedDir:    mergedDir,
		config:       cfg,
		showProgress: showProgress,
	}

	if err := pipeline.run(); err != nil {
		return err
	}

	if watchMode {
		return pipeline.watch()
	}
	return nil
}

type pipeline struct {
	endpoints    []string
	mergedDir    string
	config       config.Config
	showProgress bool
}

// run executes one full pull / merge / push cycle. The two endpoints' pulls
// run concurrently on independent sessions, the merges are the serialization
// point, and the pushes run concurrently again.
func (p pipeline) run() error {
	if err := fs.MkdirAll(p.mergedDir, 0755); err != nil {
		return errors.WithContext(err, "create merged directory")
	}

	stagingRoot := p.config.StagingRoot
	if stagingRoot == "" {
		stagingRoot = os.TempDir()
	}

	stagingDirs := make([]string, len(p.endpoints))
	for i := range p.endpoints {
		stagingDirs[i] = filepath.Join(stagingRoot,
			fmt.Sprintf("vitasync-staging-%d", i+1))
	}

	// Staging trees are ephemeral: remove them whether or not the run
	// succeeded. A dropped run just re-pulls next time.
	defer func() {
		for _, dir := range stagingDirs {
			if err := fs.RemoveAll(dir); err != nil {
				log.WithError(err).WithField("dir", dir).
					Warn("Failed to remove staging directory")
			}
		}
	}()

	sessions, err := p.connect()
	if err != nil {
		return err
	}
	defer closeSessions(sessions)

	if err := p.pull(sessions, stagingDirs); err != nil {
		return err
	}

	for _, stagingDir := range stagingDirs {
		if err := sync.Merge(stagingDir, p.mergedDir); err != nil {
			return errors.WithContext(err, "merge")
		}
	}

	return p.push(sessions)
}

// connect dials every endpoint up front. A refused connection is fatal:
// nothing has been transferred yet, and half a sync is worse than none.
func (p pipeline) connect() ([]remote.Session, error) {
	var sessions []remote.Session
	for _, endpoint := range p.endpoints {
		addr := net.JoinHostPort(endpoint, strconv.Itoa(p.config.Port))
		session, err := remote.Dial(addr,
			remote.WithTimeout(time.Duration(p.config.TimeoutSeconds)*time.Second))
		if err != nil {
			closeSessions(sessions)
			return nil, errors.WithContext(err, fmt.Sprintf("connect to %s", addr))
		}

		log.WithField("endpoint", addr).Info("Connected")
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func closeSessions(sessions []remote.Session) {
	for _, session := range sessions {
		if err := session.Close(); err != nil {
			log.WithError(err).Warn("Failed to close session")
		}
	}
}

func (p pipeline) pull(sessions []remote.Session, stagingDirs []string) error {
	meter := p.newMeter("Pulling")
	pullErrs := make([]error, len(sessions))

	var waitGroup goSync.WaitGroup
	for i := range sessions {
		waitGroup.Add(1)
		go func(i int) {
			defer waitGroup.Done()
			defer util.HandlePanic()

			transfer := &sync.Transfer{
				Session:  sessions[i],
				Progress: meter,
				Ignore:   p.config.Ignore,
			}

			if meter != nil {
				total, err := transfer.CountFiles(p.config.RemoteRoot)
				if err != nil {
					pullErrs[i] = err
					return
				}
				meter.Grow(total)
			}

			pullErrs[i] = transfer.Pull(p.config.RemoteRoot, stagingDirs[i], p.mergedDir)
		}(i)
	}
	waitGroup.Wait()
	meter.Done()

	for i, err := range pullErrs {
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("pull %s", p.endpoints[i]))
		}
	}
	return nil
}

func (p pipeline) push(sessions []remote.Session) error {
	meter := p.newMeter("Pushing")
	if meter != nil {
		total, err := sync.CountLocalFiles(p.mergedDir, p.config.Ignore)
		if err != nil {
			return err
		}
		meter.Grow(total * len(sessions))
	}

	pushErrs := make([]error, len(sessions))
	var waitGroup goSync.WaitGroup
	for i := range sessions {
		waitGroup.Add(1)
		go func(i int) {
			defer waitGroup.Done()
			defer util.HandlePanic()

			transfer := &sync.Transfer{
				Session:  sessions[i],
				Progress: meter,
				Ignore:   p.config.Ignore,
			}
			pushErrs[i] = transfer.Push(p.mergedDir, p.config.RemoteRoot)
		}(i)
	}
	waitGroup.Wait()
	meter.Done()

	for i, err := range pushErrs {
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("push %s", p.endpoints[i]))
		}
	}
	return nil
}

// watch keeps pushing local changes until the process is interrupted. Each
// burst of changes gets fresh sessions; the Vita's FTP applications drop
// idle connections too eagerly to keep one open.
func (p pipeline) watch() error {
	events, err := fswatch.Watch(p.mergedDir)
	if err != nil {
		return errors.WithContext(err, "watch merged tree")
	}

	log.Info("Watching the merged tree. Local changes will be pushed automatically.")
	for range events {
		sessions, err := p.connect()
		if err != nil {
			log.WithError(err).Error(
				"Failed to reconnect. Will retry on the next change.")
			continue
		}

		if err := p.push(sessions); err != nil {
			log.WithError(err).Error("Push failed")
		}
		closeSessions(sessions)
	}
	return nil
}

func (p pipeline) newMeter(label string) *progress.Meter {
	if !p.showProgress {
		return nil
	}
	return progress.NewMeter(label)
}

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kirillkom/maintenance-supervisor/internal/core/ports"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit string) {
	appVersion = version
	appCommit = commit
}

// Archive is the read side of the raw model response archive.
type Archive interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Services are the collaborators the commands operate on.
type Services struct {
	Processor ports.EmailProcessor
	Records   ports.RecordReader
	Stats     ports.StatsProvider
	Reports   ports.ReportPublisher
	Inbox     ports.InboxReader
	Archive   Archive
}

// Loader builds Services on first use. The returned func releases them.
type Loader func(ctx context.Context) (*Services, func(), error)

type runtime struct {
	load     Loader
	services *Services
	release  func()
}

func (r *runtime) get(ctx context.Context) (*Services, error) {
	if r.services != nil {
		return r.services, nil
	}
	svc, release, err := r.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing services: %w", err)
	}
	r.services, r.release = svc, release
	return svc, nil
}

func (r *runtime) close() {
	if r.release != nil {
		r.release()
	}
}

// newRootCommand assembles supervisorctl. Services are loaded lazily so that
// help and version work without any backing infrastructure.
func newRootCommand(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:   "supervisorctl",
		Short: "Operate the maintenance email supervisor",
		Long: `supervisorctl drives the maintenance email pipeline by hand.

It can list and preview unread mail, process it once, reprocess a single
email, inspect processing records, print or post statistics, export a
workbook and browse raw model responses kept for failed or degraded
classifications.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newVersionCommand(),
		newInboxCommand(rt),
		newClassifyCommand(rt),
		newRunOnceCommand(rt),
		newProcessCommand(rt),
		newRecordCommand(rt),
		newStatsCommand(rt),
		newDigestCommand(rt),
		newExportCommand(rt),
		newRawCommand(rt),
		newMCPCommand(rt),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "supervisorctl %s\ncommit: %s\n", appVersion, appCommit)
		},
	}
}

// Execute runs the root command.
func Execute(ctx context.Context, load Loader) error {
	rt := &runtime{load: load}
	defer rt.close()
	return newRootCommand(rt).ExecuteContext(ctx)
}

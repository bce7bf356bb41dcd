package agentcli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/booth-checkin/internal/dto"
	"github.com/noah-isme/booth-checkin/internal/models"
	"github.com/noah-isme/booth-checkin/internal/scanner"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	Organization string
	Email        string
	Program      string
	Booth        string
	Live         bool
}

type scanOutput struct {
	Status   string `json:"status"`
	Student  string `json:"studentId"`
	Validity string `json:"validity"`
	LocalID  string `json:"localId,omitempty"`
	ScanID   string `json:"scanId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan <student-id>",
		Short: "Record one badge scan",
		Long: `Record one badge scan for an organization.

By default the scan is queued locally and sent on the next sync. With --live
the server is asked right away so staff see whether the student already
visited; the scan is queued if the server cannot be reached.

Examples:
  scanner-agent scan ab12345 --org google-pk
  scanner-agent scan ab12345 --org google-pk --live --email ab12345@campus.edu`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Organization, "org", "", "organization id of this booth (required)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "student contact email")
	cmd.Flags().StringVar(&opts.Program, "program", "", "student study program")
	cmd.Flags().StringVar(&opts.Booth, "booth", "", "booth number (defaults to AGENT_BOOTH_NUMBER)")
	cmd.Flags().BoolVar(&opts.Live, "live", false, "ask the server now instead of only queueing")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func runScan(ctx context.Context, opts *ScanOptions, studentID string, out io.Writer) error {
	rt, err := openRuntime(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	req := dto.ScanRequest{
		StudentID:      studentID,
		OrganizationID: opts.Organization,
		Meta:           models.VisitMeta{Email: opts.Email, Program: opts.Program, BoothNumber: opts.Booth},
	}

	if opts.Live {
		rt.monitor.Poll(ctx)
		result := liveScan(ctx, rt.agent, req)
		if err := printScan(out, opts.Format, result); err != nil {
			return err
		}
		if result.Error != "" {
			return fmt.Errorf("scan rejected: %s", result.Error)
		}
		return nil
	}

	localID, err := rt.agent.QueueScan(ctx, req)
	if err != nil {
		return err
	}
	return printScan(out, opts.Format, scanOutput{
		Status:   string(scanner.LiveQueued),
		Student:  models.NormalizeStudentID(studentID),
		Validity: rt.agent.ValidateIdentifier(studentID).String(),
		LocalID:  localID,
	})
}

func liveScan(ctx context.Context, agent *scanner.Agent, req dto.ScanRequest) scanOutput {
	outcome, err := agent.ScanLive(ctx, req)
	result := scanOutput{
		Status:   string(outcome.Status),
		Student:  models.NormalizeStudentID(req.StudentID),
		Validity: outcome.Validity.String(),
		LocalID:  outcome.LocalID,
		ScanID:   outcome.ScanID,
	}
	if err != nil {
		result.Status = "rejected"
		result.Error = err.Error()
	}
	return result
}

func printScan(w io.Writer, format string, result scanOutput) error {
	if format == "json" {
		return writeJSON(w, result)
	}
	var err error
	switch result.Status {
	case string(scanner.LiveRecorded):
		_, err = fmt.Fprintf(w, "recorded %s as %s\n", result.Student, result.ScanID)
	case string(scanner.LiveAlreadyVisited):
		_, err = fmt.Fprintf(w, "%s already visited this booth\n", result.Student)
	case string(scanner.LiveQueued):
		_, err = fmt.Fprintf(w, "queued %s (%s, local id %s)\n", result.Student, result.Validity, result.LocalID)
	default:
		_, err = fmt.Fprintf(w, "rejected %s: %s\n", result.Student, result.Error)
	}
	return err
}

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Organization string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		Long: `Probe the server, synchronise queued scans and refresh the identifier
snapshot until interrupted.

With --org every line read from stdin is taken as a scanned badge for that
organization, which suits QR readers acting as keyboards.

Example:
  scanner-agent run --org google-pk`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Organization, "org", "", "read badges from stdin for this organization")

	return cmd
}

func runAgent(ctx context.Context, opts *RunOptions, in io.Reader, out io.Writer) error {
	rt, err := openRuntime(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer rt.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		rt.agent.Run(ctx)
	}()

	var readers sync.WaitGroup
	if opts.Organization != "" {
		badges := readBadges(ctx, in, opts.logger)
		readers.Add(1)
		go func() {
			defer readers.Done()
			scanBadges(ctx, rt.agent, opts, badges, out)
		}()
	}

	opts.logger.Info("agent running", zap.String("queue", opts.config.Agent.QueuePath), zap.String("server", opts.config.Agent.ServerURL))
	<-done
	// the store stays open until the badge being scanned is settled
	readers.Wait()
	return nil
}

func readBadges(ctx context.Context, in io.Reader, log *zap.Logger) <-chan string {
	badges := make(chan string)
	go func() {
		defer close(badges)
		lines := bufio.NewScanner(in)
		for lines.Scan() {
			badge := strings.TrimSpace(lines.Text())
			if badge == "" {
				continue
			}
			select {
			case badges <- badge:
			case <-ctx.Done():
				return
			}
		}
		if err := lines.Err(); err != nil {
			log.Warn("badge input closed", zap.Error(err))
		}
	}()
	return badges
}

func scanBadges(ctx context.Context, agent *scanner.Agent, opts *RunOptions, badges <-chan string, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case badge, ok := <-badges:
			if !ok {
				return
			}
			// a scan that started before shutdown is finished, not abandoned
			result := liveScan(context.WithoutCancel(ctx), agent, dto.ScanRequest{StudentID: badge, OrganizationID: opts.Organization})
			if err := printScan(out, opts.Format, result); err != nil {
				opts.logger.Warn("scan result not printed", zap.Error(err))
			}
		}
	}
}

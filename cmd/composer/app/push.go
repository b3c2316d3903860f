package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	internalapp "github.com/relengtools/composer/internal/app"
	"github.com/relengtools/composer/internal/compose"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/push"
	"github.com/relengtools/composer/internal/store"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push requested updates",
	Long: `Push every update requested for testing or stable, optionally narrowed by
release, request or build. The candidates are listed and the push starts after
confirmation.

Examples:
  # Push everything requested for Fedora 40 stable
  composer push --config config.yaml --releases f40 --request stable

  # Re-run composes left behind by a failed push
  composer push --config config.yaml --resume`,
	RunE: runPush,
}

func init() {
	addPushFlags(pushCmd.Flags())
}

func addPushFlags(fs *pflag.FlagSet) {
	fs.String("releases", "", "Comma separated releases to push (e.g. F40,F39)")
	fs.String("request", "", "Only push updates with this request (testing or stable)")
	fs.String("builds", "", "Comma separated builds; push the updates containing them")
	fs.String("username", os.Getenv("USER"), "Name recorded as the agent of the push")
	fs.Bool("resume", false, "Resume composes left by a previous push")
	fs.BoolP("yes", "y", false, "Answer yes to all questions")
}

// pushOptions are the parsed flags of the push command
type pushOptions struct {
	filter push.Filter
	agent  string
	resume bool
	yes    bool
}

func parsePushOptions(flags *pflag.FlagSet) (*pushOptions, error) {
	releases, err := flags.GetString("releases")
	if err != nil {
		return nil, fmt.Errorf("failed to get releases flag: %w", err)
	}
	request, err := flags.GetString("request")
	if err != nil {
		return nil, fmt.Errorf("failed to get request flag: %w", err)
	}
	builds, err := flags.GetString("builds")
	if err != nil {
		return nil, fmt.Errorf("failed to get builds flag: %w", err)
	}
	opts := &pushOptions{}
	if opts.agent, err = flags.GetString("username"); err != nil {
		return nil, fmt.Errorf("failed to get username flag: %w", err)
	}
	if opts.resume, err = flags.GetBool("resume"); err != nil {
		return nil, fmt.Errorf("failed to get resume flag: %w", err)
	}
	if opts.yes, err = flags.GetBool("yes"); err != nil {
		return nil, fmt.Errorf("failed to get yes flag: %w", err)
	}
	return buildPushOptions(opts, releases, request, builds)
}

func buildPushOptions(opts *pushOptions, releases, request, builds string) (*pushOptions, error) {
	for _, r := range splitList(releases) {
		opts.filter.Releases = append(opts.filter.Releases, strings.ToUpper(r))
	}
	if request != "" {
		req, err := models.ParseUpdateRequest(request)
		if err != nil {
			return nil, err
		}
		if req != models.RequestTesting && req != models.RequestStable {
			return nil, fmt.Errorf("--request must be testing or stable, got %q", request)
		}
		opts.filter.Request = req
	}
	opts.filter.Builds = splitList(builds)
	if opts.agent == "" {
		opts.agent = "composer"
	}
	return opts, nil
}

func runPush(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opts, err := parsePushOptions(cmd.Flags())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	appOpts, shutdown, err := setupTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	comp, err := internalapp.NewComponents(ctx, appOpts...)
	if err != nil {
		return fmt.Errorf("failed to build components: %w", err)
	}
	defer func() {
		if err := comp.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to release components: %v\n", err)
		}
	}()

	p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout(), opts.yes)
	req, err := preparePush(ctx, p, comp.Store, opts)
	if err != nil {
		return err
	}
	if req == nil {
		return nil
	}

	results, err := comp.Coordinator.Run(ctx, *req)
	if err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	return reportResults(cmd.OutOrStdout(), results)
}

// preparePush builds the push request after showing it to the operator. A
// nil request means there is nothing to do.
func preparePush(ctx context.Context, p *prompter, s store.Store, opts *pushOptions) (*push.Request, error) {
	if opts.resume {
		return prepareResume(ctx, p, s, opts)
	}

	candidates, err := push.FindCandidates(ctx, s, opts.filter)
	if err != nil {
		return nil, err
	}
	for _, u := range candidates.Stranded {
		fmt.Fprintf(p.out, "Warning: %s is locked but not part of any compose, pushing it again\n", u.Alias)
	}
	for _, u := range candidates.Unsigned {
		fmt.Fprintf(p.out, "Warning: %s has unsigned builds and has been skipped\n", u.Alias)
	}
	if len(candidates.Updates) == 0 {
		fmt.Fprintln(p.out, "There are no updates to push.")
		return nil, nil
	}

	rows := make([][]string, 0, len(candidates.Updates))
	aliases := make([]string, 0, len(candidates.Updates))
	for _, u := range candidates.Updates {
		nvrs := make([]string, len(u.Builds))
		for i, b := range u.Builds {
			nvrs[i] = b.NVR
		}
		rows = append(rows, []string{u.Alias, u.ReleaseName, string(u.Request), string(u.Type), strings.Join(nvrs, " ")})
		aliases = append(aliases, u.Alias)
	}
	if err := renderTable(p.out, []string{"Update", "Release", "Request", "Type", "Builds"}, rows); err != nil {
		return nil, err
	}

	if !p.confirm(fmt.Sprintf("Push these %d updates?", len(aliases))) {
		fmt.Fprintln(p.out, "Aborting push")
		return nil, errDeclined
	}
	return &push.Request{Updates: aliases, Agent: opts.agent}, nil
}

// prepareResume asks about every existing compose in turn
func prepareResume(ctx context.Context, p *prompter, s store.Store, opts *pushOptions) (*push.Request, error) {
	composes, err := s.ListComposes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list composes: %w", err)
	}
	if len(composes) == 0 {
		fmt.Fprintln(p.out, "There are no composes to resume.")
		return nil, nil
	}

	req := &push.Request{Resume: true, Agent: opts.agent}
	for _, c := range composes {
		if !p.confirm(fmt.Sprintf("Resume %s (%s)?", c.Key(), c.State)) {
			continue
		}
		req.Composes = append(req.Composes, push.ComposeRef{Release: c.ReleaseName, Request: c.Request})
	}
	if len(req.Composes) == 0 {
		fmt.Fprintln(p.out, "Aborting push")
		return nil, errDeclined
	}
	return req, nil
}

// reportResults prints one row per compose and fails when any compose failed
func reportResults(out io.Writer, results []*compose.Result) error {
	rows := make([][]string, 0, len(results))
	failed := 0
	for _, r := range results {
		status, message := "success", ""
		if !r.Success {
			failed++
			status = "failed"
			if r.Err != nil {
				message = r.Err.Error()
			}
		}
		rows = append(rows, []string{
			r.Compose,
			status,
			strconv.Itoa(len(r.Updates)),
			strings.Join(r.Ejected, " "),
			r.Duration.Round(time.Second).String(),
			message,
		})
	}
	if err := renderTable(out, []string{"Compose", "Result", "Updates", "Ejected", "Duration", "Error"}, rows); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d composes failed", failed, len(results))
	}
	return nil
}

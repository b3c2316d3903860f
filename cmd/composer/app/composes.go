package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	internalapp "github.com/relengtools/composer/internal/app"
	"github.com/relengtools/composer/internal/models"
	"github.com/relengtools/composer/internal/push"
	"github.com/relengtools/composer/internal/store"
)

var composesCmd = &cobra.Command{
	Use:   "composes",
	Short: "Inspect and discard composes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var composesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List composes and their states",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd, func(ctx context.Context, s store.Store) error {
			return listComposes(ctx, cmd.OutOrStdout(), s)
		})
	},
}

var composesDiscardCmd = &cobra.Command{
	Use:   "discard RELEASE-REQUEST...",
	Short: "Delete composes and release their updates",
	Long: `Delete the named composes, e.g. F40-testing. Their updates are unlocked and
keep their requests, so the next push picks them up again.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, err := cmd.Flags().GetBool("yes")
		if err != nil {
			return fmt.Errorf("failed to get yes flag: %w", err)
		}
		return withStore(cmd, func(ctx context.Context, s store.Store) error {
			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout(), yes)
			return discardComposes(ctx, p, s, args)
		})
	},
}

func init() {
	composesDiscardCmd.Flags().BoolP("yes", "y", false, "Answer yes to all questions")
	composesCmd.AddCommand(composesListCmd)
	composesCmd.AddCommand(composesDiscardCmd)
}

// withStore opens the configured store for the duration of fn
func withStore(cmd *cobra.Command, fn func(context.Context, store.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	comp, err := internalapp.NewComponents(ctx, internalapp.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build components: %w", err)
	}
	defer func() {
		if err := comp.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed to release components: %v\n", err)
		}
	}()
	return fn(ctx, comp.Store)
}

func listComposes(ctx context.Context, out io.Writer, s store.Store) error {
	composes, err := s.ListComposes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list composes: %w", err)
	}
	if len(composes) == 0 {
		fmt.Fprintln(out, "There are no composes.")
		return nil
	}

	rows := make([][]string, 0, len(composes))
	for _, c := range composes {
		updates, err := s.ComposeUpdates(ctx, c)
		if err != nil {
			return fmt.Errorf("failed to load updates of %s: %w", c.Key(), err)
		}
		security := ""
		if slices.ContainsFunc(updates, (*models.Update).IsSecurity) {
			security = "*"
		}
		rows = append(rows, []string{
			security + c.Key(),
			string(c.ContentType),
			string(c.State),
			fmt.Sprint(len(updates)),
			c.StateDate.Format(time.DateTime),
			strings.Join(doneCheckpoints(c), " "),
			c.ErrorMessage,
		})
	}
	return renderTable(out, []string{"Compose", "Content", "State", "Updates", "Since", "Checkpoints", "Error"}, rows)
}

// doneCheckpoints returns the names of completed stages, sorted
func doneCheckpoints(c *models.Compose) []string {
	var done []string
	for name := range c.Checkpoints {
		if c.Checkpoints.Done(name) {
			done = append(done, name)
		}
	}
	slices.Sort(done)
	return done
}

func discardComposes(ctx context.Context, p *prompter, s store.Store, keys []string) error {
	refs := make([]push.ComposeRef, 0, len(keys))
	for _, key := range keys {
		ref, err := push.ParseComposeRef(key)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}

	for _, ref := range refs {
		if !p.confirm(fmt.Sprintf("Discard %s?", ref)) {
			fmt.Fprintf(p.out, "Keeping %s\n", ref)
			continue
		}
		released, err := push.Discard(ctx, s, ref, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to discard %s: %w", ref, err)
		}
		fmt.Fprintf(p.out, "Discarded %s, released %d updates\n", ref, len(released))
	}
	return nil
}

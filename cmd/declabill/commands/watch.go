package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/declabill/declabill/pkg/config"
	"github.com/declabill/declabill/pkg/policy"
)

func newWatchCommand() *cobra.Command {
	var (
		flags    applyFlags
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <path>...",
		Short: "Apply, then re-apply whenever the desired state changes",
		Long: `Apply the desired state, then keep watching the sources and re-apply on
every change. Policy files under --policies are reloaded as well.

Failed applies are logged and the watch goes on; fix the documents and save
to retry.`,
		Example: `  # Keep an account converged while editing its documents
  declabill watch --in-memory ./billing`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context(), settings, appOptions{
				remote:         true,
				policies:       true,
				journal:        true,
				policyMetadata: flags.policyMetadata(),
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if settings.PolicyDir != "" {
				loader := policy.NewLoader(log.Logger)
				err := loader.Watch(ctx, []string{settings.PolicyDir}, func(policies []policy.Policy) error {
					return a.policies.SetPolicies(ctx, policies)
				})
				if err != nil {
					return err
				}
				defer loader.StopWatching()
			}

			return a.watch(ctx, &flags, args, debounce)
		},
	}

	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before re-applying")

	return cmd
}

// watch applies the sources, then again after every burst of changes
// until ctx is done.
func (a *app) watch(ctx context.Context, flags *applyFlags, sources []string, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, source := range sources {
		dir := source
		if info, err := os.Stat(source); err == nil && !info.IsDir() {
			// Editors replace files on save; watch the directory instead.
			dir = filepath.Dir(source)
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", source, err)
		}
	}

	apply := func() {
		plan, err := a.applySources(ctx, "watch", flags, sources)
		if err != nil {
			log.Error().Err(err).Msg("Apply failed")
			return
		}
		log.Info().
			Int("changes", len(plan.Changes())).
			Msg("Desired state applied")
	}
	apply()

	log.Info().Strs("sources", sources).Msg("Watching for changes")

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if config.FormatOf(event.Name) == "" {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Source changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			fire = timer.C

		case <-fire:
			fire = nil
			apply()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}

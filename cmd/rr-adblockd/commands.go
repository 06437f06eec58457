package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/gateways/interceptor"
)

type checkOptions struct {
	accept string
	xhr    bool
	fetch  bool
}

func newCheckCommand() *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check <url>",
		Short: "Decide whether a single request would be blocked",
		Long: `Initialize the blocker, wait for the cached filter lists to load and
print the verdict for one request.`,
		Example: `  # Check a script URL
  rr-adblockd check https://ads.example.com/banner.js

  # Check as an XHR call expecting JSON
  rr-adblockd check https://api.example.com/track --xhr --accept application/json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.accept, "accept", "", "Accept header sent with the request")
	cmd.Flags().BoolVar(&opts.xhr, "xhr", false, "mark the request as XMLHttpRequest")
	cmd.Flags().BoolVar(&opts.fetch, "fetch", false, "perform the request through the blocking transport")
	return cmd
}

func newUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Re-download every filter list and reload the rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpdate(cmd)
		},
	}
}

// startApplication builds, initializes and enables the blocker, then waits
// for the first load of the cached lists.
func startApplication(ctx context.Context) (*Application, error) {
	cfg, err := setup()
	if err != nil {
		return nil, err
	}
	app, err := buildApplication(cfg)
	if err != nil {
		return nil, err
	}
	if err := app.controller.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize blocker: %w", err)
	}
	app.controller.Enable()

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Update.Timeout)
	defer cancel()
	if err := app.controller.AwaitInitialLoad(waitCtx); err != nil {
		_ = app.controller.Cleanup()
		return nil, fmt.Errorf("initial filter load: %w", err)
	}
	return app, nil
}

func runCheck(cmd *cobra.Command, url string, opts *checkOptions) (err error) {
	app, err := startApplication(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.controller.Cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	headers := map[string]string{}
	if opts.accept != "" {
		headers[domain.HeaderAccept] = opts.accept
	}
	if opts.xhr {
		headers[domain.HeaderRequestedWith] = domain.RequestedWithXHR
	}

	v := app.pipeline.Decide(domain.NewRequest(url, http.MethodGet, headers))
	verdict := "allow"
	if v.Block {
		verdict = "block"
	}
	reason := string(v.Reason)
	if reason == "" {
		reason = "-"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "url:     %s\n", url)
	fmt.Fprintf(out, "verdict: %s\n", verdict)
	fmt.Fprintf(out, "role:    %s\n", v.Role)
	fmt.Fprintf(out, "reason:  %s\n", reason)

	if opts.fetch {
		return fetchThrough(cmd, app, url, headers)
	}
	return nil
}

// fetchThrough performs the request with the blocking transport installed.
func fetchThrough(cmd *cobra.Command, app *Application, url string, headers map[string]string) error {
	client := &http.Client{
		Transport: interceptor.NewTransport(app.pipeline, nil),
		Timeout:   app.config.HTTP.ReadTimeout,
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "status:  %d (%d bytes)\n", resp.StatusCode, n)
	return nil
}

func runUpdate(cmd *cobra.Command) (err error) {
	app, err := startApplication(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.controller.Cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	rep, err := app.controller.UpdateFilters(cmd.Context())
	out := cmd.OutOrStdout()
	if rep.ID != "" {
		fmt.Fprintf(out, "update %s finished in %s\n", rep.ID, rep.Duration().Round(time.Millisecond))
		for _, res := range rep.Results {
			line := fmt.Sprintf("  %-8s %-10s %s", res.SourceID, res.Outcome, res.URL)
			if res.Err != nil {
				line += " (" + res.Err.Error() + ")"
			}
			fmt.Fprintln(out, line)
		}
	}
	if err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	if n := rep.Failed(); n > 0 {
		return fmt.Errorf("update failed: %d of %d sources", n, len(rep.Results))
	}
	fmt.Fprintf(out, "rules loaded: %d\n", app.engine.Stats().Rules())
	return nil
}

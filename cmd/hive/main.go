package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hivesocial/hive_sdk_go/pkg/apierr"
	"github.com/hivesocial/hive_sdk_go/pkg/auth"
	"github.com/hivesocial/hive_sdk_go/pkg/feed"
	"github.com/hivesocial/hive_sdk_go/pkg/hive"
	"github.com/hivesocial/hive_sdk_go/pkg/posts"
)

var (
	configPath string
	mode       string
	apiURL     string
	asJSON     bool
	verbose    bool
	timeout    time.Duration

	feedLimit int
	feedPages int

	email    string
	password string
	content  string
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Read and write the HIVE feed from the terminal",
	Long: `hive talks to the HIVE backend through the cached SDK client.
Without --api-url or HIVE_API_URL it runs against the in-process mock backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Print the home feed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *hive.Runtime) error {
			data, _, err := rt.Feed.Infinite(ctx, feedLimit)
			if err != nil {
				return err
			}
			for i := 1; i < feedPages && data.HasNextPage(); i++ {
				if data, err = rt.Feed.NextPage(ctx, feedLimit); err != nil {
					return err
				}
			}
			return printFeed(cmd.OutOrStdout(), data.Items())
		})
	},
}

var postCmd = &cobra.Command{
	Use:   "post <id>",
	Short: "Print a post and its comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *hive.Runtime) error {
			p, _, err := rt.Posts.Get(ctx, args[0])
			if err != nil {
				return err
			}
			comments, _, err := rt.Posts.Comments(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"post": p, "comments": comments})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s  %d likes\n%s\n", p.AuthorName, p.CreatedAt.Format(time.RFC822), p.LikesCount, p.Content)
			for _, c := range comments {
				fmt.Fprintf(out, "  - %s: %s\n", c.AuthorName, c.Content)
			}
			return nil
		})
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile <user-id>",
	Short: "Print a user profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, func(ctx context.Context, rt *hive.Runtime) error {
			p, _, err := rt.Users.Profile(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\nposts %d  followers %d  following %d\n",
				p.Name, p.Email, p.PostsCount, p.FollowersCount, p.FollowingCount)
			return nil
		})
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a post, signing in first when credentials are given",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if strings.TrimSpace(content) == "" {
			return fmt.Errorf("--content is required")
		}
		return withRuntime(cmd, func(ctx context.Context, rt *hive.Runtime) error {
			if email != "" {
				if _, err := rt.Auth.Login(ctx, auth.LoginRequest{Email: email, Password: password}); err != nil {
					return err
				}
			}
			p, err := rt.Posts.CreateOptimistic(ctx, posts.CreateRequest{Content: content})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s\n", p.ID)
			return nil
		})
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to a YAML config file (default $HIVE_CONFIG)")
	pf.StringVar(&mode, "mode", "", "runtime mode: auto, http or mock")
	pf.StringVar(&apiURL, "api-url", "", "backend base URL, e.g. http://localhost:8787/api")
	pf.BoolVar(&asJSON, "json", false, "print JSON")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log transport and cache activity")
	pf.DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")

	feedCmd.Flags().IntVar(&feedLimit, "limit", feed.DefaultLimit, "posts per page")
	feedCmd.Flags().IntVar(&feedPages, "pages", 1, "number of pages to load")

	publishCmd.Flags().StringVar(&content, "content", "", "post text")
	publishCmd.Flags().StringVar(&email, "email", "", "sign in with this email first")
	publishCmd.Flags().StringVar(&password, "password", "", "password for --email")

	rootCmd.AddCommand(feedCmd, postCmd, profileCmd, publishCmd)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", apierr.Message(err))
		os.Exit(1)
	}
}

// withRuntime builds the runtime from flags and environment, restores the
// persisted cache, runs fn and saves the cache again.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *hive.Runtime) error) error {
	cfg, err := hive.ConfigFromEnv(configPath)
	if err != nil {
		return err
	}
	if mode != "" {
		cfg.Mode = strings.ToLower(mode)
	}
	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}
	if verbose {
		cfg.Log.Level = zerolog.DebugLevel.String()
	}
	cfg.Cache.SweepInterval = 0

	rt, err := hive.New(cfg, hive.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("close runtime")
		}
	}()

	if n, err := rt.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("cache not restored")
	} else if n > 0 {
		log.Debug().Int("entries", n).Msg("cache restored")
	}
	return fn(ctx, rt)
}

func printFeed(w io.Writer, items []feed.Item) error {
	if asJSON {
		return writeJSON(w, items)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAUTHOR\tPOSTED\tCONTENT")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.ID, it.AuthorName, it.CreatedAt.Format("Jan 02 15:04"), truncate(it.Content, 60))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

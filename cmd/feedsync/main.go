// Package main implements feedsync, a terminal client for the social
// feed API: it authenticates, follows feeds live over the push channel
// and performs post, like, comment and follow actions.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"feedsync/internal/apiclient"
	"feedsync/internal/config"
	"feedsync/internal/engine"
	"feedsync/internal/events"
	"feedsync/internal/stream"
	"feedsync/internal/token"
	"feedsync/pkg/feed"
)

const usage = `usage: feedsync [-config path] <command> [args]

commands:
  login -email E -password P     log in and store the token
  register -email E -name N -password P
  logout                         forget the stored token
  whoami                         show the logged-in account
  watch [-mode M] [-user NAME]   stream a feed live (modes: global, home,
                                 user, popular-day, popular-week)
  post CONTENT [IMAGE_URL]       publish a post
  like POST_ID | unlike POST_ID
  comment POST_ID CONTENT
  delete POST_ID
  profile NAME                   show a profile with follow stats
  follow NAME | unfollow NAME
  search QUERY                   search users
`

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "feedsync: %v\n", err)
			os.Exit(1)
		}
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	tokens := token.NewStore(cfg.TokenFile, bus, logger)
	client := apiclient.New(cfg.APIBase, tokens, logger, apiclient.Options{
		HTTPClient:       &http.Client{Timeout: cfg.HTTPTimeout()},
		FeedPageSize:     cfg.FeedPageSize,
		CommentsPageSize: cfg.CommentsPageSize,
	})

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := run(ctx, cmd, args, cfg, client, tokens, bus, logger); err != nil {
		fmt.Fprintf(os.Stderr, "feedsync: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, cfg config.Config, client *apiclient.Client, tokens *token.Store, bus *events.Bus, logger *slog.Logger) error {
	switch cmd {
	case "login":
		return runLogin(ctx, args, cfg, client, tokens, false)
	case "register":
		return runLogin(ctx, args, cfg, client, tokens, true)
	case "logout":
		return tokens.Clear()
	case "whoami":
		return runWhoami(ctx, client, tokens)
	case "watch":
		return runWatch(ctx, args, cfg, client, tokens, bus, logger)
	case "post":
		if len(args) < 1 {
			return errors.New("post: content required")
		}
		imageURL := ""
		if len(args) > 1 {
			imageURL = args[1]
		}
		p, err := client.CreatePost(ctx, args[0], imageURL)
		if err != nil {
			return err
		}
		fmt.Printf("posted %s\n", p.ID)
		return nil
	case "like", "unlike":
		if len(args) != 1 {
			return fmt.Errorf("%s: post id required", cmd)
		}
		var p *feed.Post
		var err error
		if cmd == "like" {
			p, err = client.Like(ctx, args[0])
		} else {
			p, err = client.Unlike(ctx, args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s now has %d likes\n", p.ID, p.LikeCount)
		return nil
	case "comment":
		if len(args) < 2 {
			return errors.New("comment: post id and content required")
		}
		cm, err := client.CreateComment(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("commented %s\n", cm.ID)
		return nil
	case "delete":
		if len(args) != 1 {
			return errors.New("delete: post id required")
		}
		return client.DeletePost(ctx, args[0])
	case "profile":
		if len(args) != 1 {
			return errors.New("profile: display name required")
		}
		return runProfile(ctx, client, args[0])
	case "follow", "unfollow":
		if len(args) != 1 {
			return fmt.Errorf("%s: display name required", cmd)
		}
		if cmd == "follow" {
			return client.Follow(ctx, args[0])
		}
		return client.Unfollow(ctx, args[0])
	case "search":
		if len(args) != 1 {
			return errors.New("search: query required")
		}
		results, err := client.SearchUsers(ctx, args[0], 0)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Println(r.DisplayName)
		}
		return nil
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runLogin(ctx context.Context, args []string, cfg config.Config, client *apiclient.Client, tokens *token.Store, register bool) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", os.Getenv("FEEDSYNC_EMAIL"), "account email")
	name := fs.String("name", "", "display name (register only)")
	password := fs.String("password", os.Getenv("FEEDSYNC_PASSWORD"), "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("email and password are required")
	}

	var resp *feed.LoginResponse
	var err error
	if register {
		if *name == "" {
			return errors.New("register: -name is required")
		}
		resp, err = client.Register(ctx, *email, *name, *password)
	} else {
		resp, err = client.Login(ctx, *email, *password)
	}
	if err != nil {
		return err
	}

	if dir := filepath.Dir(cfg.TokenFile); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	if err := tokens.Set(resp.Token); err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", resp.User.DisplayName)
	return nil
}

func runWhoami(ctx context.Context, client *apiclient.Client, tokens *token.Store) error {
	if _, ok := tokens.Get(); !ok {
		fmt.Println("not logged in")
		return nil
	}
	claims := tokens.Claims()
	if tokens.Expired() {
		fmt.Printf("token for %s expired at %s; log in again\n", claims.Email, claims.ExpiresAt.Format(time.RFC3339))
		return nil
	}
	me, err := client.Me(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s <%s>\n", me.DisplayName, me.Email)
	return nil
}

func runProfile(ctx context.Context, client *apiclient.Client, name string) error {
	profile, err := client.Profile(ctx, name)
	if err != nil {
		return err
	}
	fmt.Println(profile.DisplayName)
	if profile.Bio != "" {
		fmt.Println(profile.Bio)
	}
	stats, err := client.FollowStats(ctx, name)
	if err != nil {
		return err
	}
	following := ""
	if stats.FollowingByMe {
		following = " (followed by you)"
	}
	fmt.Printf("%d followers, %d following%s\n", stats.Followers, stats.Following, following)
	return nil
}

func runWatch(ctx context.Context, args []string, cfg config.Config, client *apiclient.Client, tokens *token.Store, bus *events.Bus, logger *slog.Logger) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	modeName := fs.String("mode", "global", "feed mode")
	user := fs.String("user", "", "display name for -mode user")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode, ok := feed.ParseMode(*modeName)
	if !ok {
		return fmt.Errorf("unknown mode %q", *modeName)
	}
	if mode == feed.ModeUser && *user == "" {
		return errors.New("-mode user requires -user")
	}

	view := engine.NewFeed(feed.Selector{Mode: mode, User: *user}, client, tokens, bus, cfg.FeedPageSize, logger)
	defer view.Close()

	// The streaming connection must outlive any single request timeout.
	listener := stream.New(cfg.APIBase, &http.Client{}, bus, logger)
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	go func() {
		if err := listener.Run(streamCtx); err != nil && streamCtx.Err() == nil {
			logger.Warn("Push channel closed", "error", err)
		}
	}()

	if err := view.LoadMore(ctx); err != nil {
		return err
	}
	render(view)
	fmt.Println(`commands: more | refresh | like N | del N | comment N TEXT | quit`)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	rendered := view.Version()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if v := view.Version(); v != rendered {
				rendered = v
				render(view)
			}
		case line, open := <-lines:
			if !open {
				return nil
			}
			if err := handleWatchCommand(ctx, line, view, client, tokens, logger); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Printf("! %v\n", err)
			}
			rendered = view.Version()
			render(view)
		}
	}
}

var errQuit = errors.New("quit")

func handleWatchCommand(ctx context.Context, line string, view *engine.Feed, client *apiclient.Client, tokens *token.Store, logger *slog.Logger) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	posts := view.Posts()

	postAt := func(arg string) (feed.Post, error) {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(posts) {
			return feed.Post{}, fmt.Errorf("no post #%s", arg)
		}
		return posts[n-1], nil
	}

	switch fields[0] {
	case "quit", "q":
		return errQuit
	case "more", "m":
		return view.LoadMore(ctx)
	case "refresh", "r":
		return view.Refresh(ctx)
	case "like", "l":
		if len(fields) != 2 {
			return errors.New("usage: like N")
		}
		p, err := postAt(fields[1])
		if err != nil {
			return err
		}
		return view.ToggleLike(ctx, p.ID)
	case "del", "d":
		if len(fields) != 2 {
			return errors.New("usage: del N")
		}
		p, err := postAt(fields[1])
		if err != nil {
			return err
		}
		return view.DeletePost(ctx, p.ID)
	case "comment", "c":
		if len(fields) < 3 {
			return errors.New("usage: comment N TEXT")
		}
		p, err := postAt(fields[1])
		if err != nil {
			return err
		}
		me, err := client.Me(ctx)
		if err != nil {
			return err
		}
		thread := engine.NewCommentThread(p.ID, me.DisplayName, client, tokens, logger)
		return thread.Add(ctx, strings.Join(fields[2:], " "))
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func render(view *engine.Feed) {
	posts := view.Posts()
	fmt.Println(strings.Repeat("-", 60))
	if len(posts) == 0 {
		fmt.Println("no posts yet")
	}
	for i, p := range posts {
		liked := " "
		if p.LikedByMe {
			liked = "*"
		}
		fmt.Printf("%2d %s%s @%s %s\n   %s\n",
			i+1, liked, p.CreatedAt.Local().Format("15:04"), p.Author,
			fmt.Sprintf("(%d likes, %d comments)", p.LikeCount, p.CommentCount),
			strings.ReplaceAll(p.Content, "\n", "\n   "))
	}
	switch view.State() {
	case engine.StateExhausted:
		fmt.Println("-- end of feed --")
	case engine.StateFetching:
		fmt.Println("-- loading --")
	case engine.StateIdle:
		if err := view.Err(); err != nil {
			fmt.Printf("-- last page failed: %v --\n", err)
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

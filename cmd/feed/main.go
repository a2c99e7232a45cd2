package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	apiclient "github.com/splax/feed/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id,omitempty"`
}

var buildVersion = "dev"

const requestTimeout = 15 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "signup":
		err = commandSignup(args)
	case "login":
		err = commandLogin(args)
	case "logout":
		err = commandLogout()
	case "status":
		err = commandStatus(args)
	case "posts":
		err = commandPosts(args)
	case "post":
		err = commandPost(args)
	case "watch":
		err = commandWatch(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandSignup(args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	name := fs.String("name", "", "Display name")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+apiclient.DefaultBaseURL+")")
	_ = fs.Parse(args)

	if strings.TrimSpace(*email) == "" || strings.TrimSpace(*name) == "" {
		return errors.New("--email and --name are required")
	}
	secret, err := passwordOrPrompt(*password)
	if err != nil {
		return err
	}
	cfg, client, err := clientFor(*apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	userID, err := client.Signup(ctx, *email, *name, secret)
	if err != nil {
		return err
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("account created: %s\n", userID)
	return nil
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+apiclient.DefaultBaseURL+")")
	_ = fs.Parse(args)

	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	secret, err := passwordOrPrompt(*password)
	if err != nil {
		return err
	}
	cfg, client, err := clientFor(*apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	session, err := client.Login(ctx, *email, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = session.Token
	cfg.UserID = session.UserID
	if err := saveConfig(cfg); err != nil {
		return err
	}
	if !session.ExpiresAt.IsZero() {
		fmt.Printf("login successful, session valid until %s\n", session.ExpiresAt.Local().Format(time.Kitchen))
		return nil
	}
	fmt.Println("login successful")
	return nil
}

func commandLogout() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.AccessToken = ""
	cfg.UserID = ""
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	set := fs.String("set", "", "Replace the status line")
	_ = fs.Parse(args)

	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var status string
	if fs.Changed("set") {
		status, err = client.SetStatus(ctx, token, *set)
	} else {
		status, err = client.Status(ctx, token)
	}
	if err != nil {
		return err
	}
	fmt.Println(status)
	return nil
}

func commandPosts(args []string) error {
	fs := flag.NewFlagSet("posts", flag.ExitOnError)
	page := fs.IntP("page", "p", 1, "Page number")
	_ = fs.Parse(args)

	cfg, client, err := clientFor("")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	result, err := client.Posts(ctx, cfg.AccessToken, *page)
	if err != nil {
		return err
	}
	if len(result.Posts) == 0 {
		fmt.Println("no posts")
		return nil
	}
	for _, p := range result.Posts {
		printPost(p)
	}
	pages := 1
	if result.PageSize > 0 {
		pages = (result.TotalItems + result.PageSize - 1) / result.PageSize
	}
	fmt.Printf("page %d of %d (%d posts)\n", result.Page, pages, result.TotalItems)
	return nil
}

func commandPost(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: feed post [get|create|update|delete]")
	}
	switch args[0] {
	case "get":
		return postGet(args[1:])
	case "create":
		return postWrite("post create", args[1:], false)
	case "update":
		return postWrite("post update", args[1:], true)
	case "delete":
		return postDelete(args[1:])
	default:
		return fmt.Errorf("unknown post command: %s", args[0])
	}
}

func postGet(args []string) error {
	fs := flag.NewFlagSet("post get", flag.ExitOnError)
	id := fs.String("id", "", "Post identifier")
	_ = fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	_, client, err := clientFor("")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	p, err := client.Post(ctx, *id)
	if err != nil {
		return err
	}
	printPost(p)
	return nil
}

func postWrite(name string, args []string, update bool) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	id := fs.String("id", "", "Post identifier (update only)")
	title := fs.String("title", "", "Post title")
	content := fs.String("content", "", "Post content")
	imagePath := fs.String("image", "", "Path of an image file to upload")
	imageURL := fs.String("image-url", "", "Reference an already uploaded image")
	_ = fs.Parse(args)
	postID := strings.TrimSpace(*id)
	if update && postID == "" {
		return errors.New("--id is required")
	}

	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	in := apiclient.PostInput{Title: *title, Content: *content, ImageURL: *imageURL}
	if *imagePath != "" {
		f, err := os.Open(*imagePath)
		if err != nil {
			return fmt.Errorf("open image: %w", err)
		}
		defer f.Close()
		in.Image = f
		in.ImageName = filepath.Base(*imagePath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	var p apiclient.Post
	if !update {
		p, err = client.CreatePost(ctx, token, in)
	} else {
		p, err = client.UpdatePost(ctx, token, postID, in)
	}
	if err != nil {
		return err
	}
	printPost(p)
	return nil
}

func postDelete(args []string) error {
	fs := flag.NewFlagSet("post delete", flag.ExitOnError)
	id := fs.String("id", "", "Post identifier")
	_ = fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := client.DeletePost(ctx, token, *id); err != nil {
		return err
	}
	fmt.Println("post deleted")
	return nil
}

func commandWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print raw event JSON")
	_ = fs.Parse(args)

	cfg, client, err := clientFor("")
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "watching for post events, press Ctrl+C to stop")
	return client.Watch(ctx, cfg.AccessToken, func(ev apiclient.Event) error {
		if *asJSON {
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		fmt.Printf("%s  %-6s %s  %q by %s\n", time.Now().Format(time.TimeOnly), ev.Action, ev.Post.ID, ev.Post.Title, ev.Post.Creator.Name)
		return nil
	})
}

func printPost(p apiclient.Post) {
	fmt.Printf("%s  %s\n", p.ID, p.Title)
	fmt.Printf("  by %s, %s\n", p.Creator.Name, p.CreatedAt.Local().Format(time.DateTime))
	if p.ImageURL != "" {
		fmt.Printf("  image: %s\n", p.ImageURL)
	}
	if p.Content != "" {
		fmt.Printf("  %s\n", p.Content)
	}
}

func passwordOrPrompt(value string) (string, error) {
	if secret := strings.TrimSpace(value); secret != "" {
		return secret, nil
	}
	fmt.Print("Password: ")
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(bytes), nil
}

func clientFor(apiBase string) (cliConfig, *apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cliConfig{}, nil, err
	}
	if strings.TrimSpace(apiBase) != "" {
		cfg.APIBaseURL = apiBase
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return cliConfig{}, nil, err
	}
	return cfg, client, nil
}

func authedClient() (cliConfig, *apiclient.Client, string, error) {
	cfg, client, err := clientFor("")
	if err != nil {
		return cliConfig{}, nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return cliConfig{}, nil, "", errors.New("please login first using 'feed login'")
	}
	return cfg, client, token, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: apiclient.DefaultBaseURL}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = apiclient.DefaultBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "feed", "config.json"), nil
}

func printUsage() {
	fmt.Printf("feed CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	feed signup --email user@example.com --name Max [--password secret] [--api http://localhost:8080]
	feed login --email user@example.com [--password secret] [--api http://localhost:8080]
	feed logout
	feed status [--set "new status"]
	feed posts [--page N]
	feed post get --id <post-id>
	feed post create --title <title> --content <text> (--image file.png | --image-url https://example.com/x.png)
	feed post update --id <post-id> --title <title> --content <text> [--image file.png | --image-url ref]
	feed post delete --id <post-id>
	feed watch [--json]
	feed version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}

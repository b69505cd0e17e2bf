package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	apiclient "github.com/abdalla-omar/perkmanager/pkg/api/client"
)

const defaultAPIBase = "http://localhost:8080"

type cliConfig struct {
	APIBaseURL string `json:"api_base_url"`
	UserID     int64  `json:"user_id,omitempty"`
	Email      string `json:"email,omitempty"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}
	if err := run(context.Background(), os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", apiclient.ErrorMessage(err, err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "login":
		return commandLogin(ctx, args, out, false)
	case "signup":
		return commandLogin(ctx, args, out, true)
	case "logout":
		return commandLogout(out)
	case "perks":
		return commandPerks(ctx, args, out)
	case "vote":
		return commandVote(ctx, args, out)
	case "profile":
		return commandProfile(ctx, args, out)
	case "password":
		return commandPassword(ctx, args, out)
	case "version", "--version", "-v":
		fmt.Fprintln(out, strings.TrimSpace(buildVersion))
		return nil
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func commandLogin(ctx context.Context, args []string, out io.Writer, signup bool) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+defaultAPIBase+")")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}
	secret, err := readSecret(*password, "Password: ")
	if err != nil {
		return err
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	creds := apiclient.Credentials{Email: strings.TrimSpace(*email), Password: secret}
	var user apiclient.User
	if signup {
		profile, err := client.CreateUser(ctx, creds)
		if err != nil {
			return err
		}
		user = profile.User()
	} else {
		user, err = client.Login(ctx, creds)
		if err != nil {
			return err
		}
	}
	cfg.UserID, cfg.Email = user.ID, user.Email
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Logged in as %s\n", user.Email)
	return nil
}

func commandLogout(out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.UserID, cfg.Email = 0, ""
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Fprintln(out, "Logged out.")
	return nil
}

func commandPerks(ctx context.Context, args []string, out io.Writer) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "list":
		return perksList(ctx, args, out)
	case "mine":
		return perksMine(ctx, out)
	case "create":
		return perksCreate(ctx, args, out)
	case "add":
		return perksAdd(ctx, args, out)
	default:
		return fmt.Errorf("unknown perks command: %s", sub)
	}
}

func perksList(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("perks list", flag.ContinueOnError)
	top := fs.Bool("top", false, "Sort by net score")
	membership := fs.String("membership", "", "Only perks for this membership")
	product := fs.String("product", "", "Only perks for this product")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, client, err := session(false)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var perks []apiclient.Perk
	switch {
	case *top:
		perks, err = client.ListPerksByVotes(ctx)
	case *membership != "":
		perks, err = client.ListPerksByMembership(ctx, *membership)
	case *product != "":
		perks, err = client.ListPerksByProduct(ctx, *product)
	default:
		perks, err = client.ListPerks(ctx)
	}
	if err != nil {
		return err
	}
	printPerks(out, perks)
	return nil
}

func perksMine(ctx context.Context, out io.Writer) error {
	cfg, client, err := session(true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	matching, err := client.MatchingPerks(ctx, cfg.UserID)
	if err != nil {
		return err
	}
	if matching.Kind == apiclient.MatchingFlat {
		printPerks(out, matching.Flat)
		return nil
	}
	for _, name := range matching.BucketNames() {
		fmt.Fprintf(out, "== %s ==\n", name)
		printPerks(out, matching.Buckets[name])
	}
	return nil
}

func perksCreate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("perks create", flag.ContinueOnError)
	description := fs.String("description", "", "Perk description")
	membership := fs.String("membership", "", "Membership ("+strings.Join(apiclient.Memberships, "|")+")")
	product := fs.String("product", "", "Product ("+strings.Join(apiclient.Products, "|")+")")
	start := fs.String("start", "", "Start date YYYY-MM-DD")
	end := fs.String("end", "", "End date YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, client, err := session(true)
	if err != nil {
		return err
	}
	input := apiclient.PerkInput{Description: *description, Membership: *membership, Product: *product}
	if input.StartDate, err = apiclient.ParseDate(*start); err != nil {
		return err
	}
	if input.EndDate, err = apiclient.ParseDate(*end); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	perk, err := client.CreatePerk(ctx, cfg.UserID, input)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Perk created! Net Score: %d, Active: %t\n", perk.NetScore, perk.Active)
	return nil
}

func perksAdd(ctx context.Context, args []string, out io.Writer) error {
	perkID, err := perkArg(args)
	if err != nil {
		return err
	}
	cfg, client, err := session(true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := client.AddPerkToUser(ctx, cfg.UserID, perkID); err != nil {
		return err
	}
	fmt.Fprintln(out, "Perk added to your profile.")
	return nil
}

func commandVote(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errors.New("usage: perkctl vote up|down <perk-id>")
	}
	perkID, err := perkArg(args[1:])
	if err != nil {
		return err
	}
	cfg, client, err := session(true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var perk apiclient.Perk
	switch args[0] {
	case "up":
		perk, err = client.UpvotePerk(ctx, perkID, cfg.UserID)
	case "down":
		perk, err = client.DownvotePerk(ctx, perkID, cfg.UserID)
	default:
		return fmt.Errorf("unknown vote direction: %s", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "perk %d: ↑%d ↓%d net %d\n", perk.ID, perk.Upvotes, perk.Downvotes, perk.NetScore)
	return nil
}

func commandProfile(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	add := fs.String("add-membership", "", "Membership to add before showing the profile")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, client, err := session(true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if m := strings.TrimSpace(*add); m != "" {
		if err := client.AddMembership(ctx, cfg.UserID, m); err != nil {
			return err
		}
	}
	profile, err := client.GetProfile(ctx, cfg.UserID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s (#%d)\n", cfg.Email, cfg.UserID)
	if len(profile.Memberships) == 0 {
		fmt.Fprintln(out, "memberships: none")
		return nil
	}
	fmt.Fprintf(out, "memberships: %s\n", strings.Join(profile.Memberships, ", "))
	return nil
}

func commandPassword(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("password", flag.ContinueOnError)
	current := fs.String("current", "", "Current password (supply to avoid prompt)")
	next := fs.String("new", "", "New password (supply to avoid prompt)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, client, err := session(true)
	if err != nil {
		return err
	}
	currentSecret, err := readSecret(*current, "Current password: ")
	if err != nil {
		return err
	}
	nextSecret := *next
	if nextSecret == "" {
		if nextSecret, err = readSecret("", "New password: "); err != nil {
			return err
		}
		confirm, err := readSecret("", "Confirm new password: ")
		if err != nil {
			return err
		}
		if confirm != nextSecret {
			return errors.New("New password and confirmation do not match.")
		}
	}
	if currentSecret == nextSecret {
		return errors.New("New password must be different.")
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := client.ChangePassword(ctx, cfg.UserID, currentSecret, nextSecret); err != nil {
		return err
	}
	cfg.UserID, cfg.Email = 0, ""
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Fprintln(out, "Password changed successfully. Please log in again.")
	return nil
}

// session loads the CLI config and an API client. requireUser enforces a prior login.
func session(requireUser bool) (cliConfig, *apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cliConfig{}, nil, err
	}
	if requireUser && cfg.UserID == 0 {
		return cliConfig{}, nil, errors.New("please login first using 'perkctl login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return cliConfig{}, nil, err
	}
	return cfg, client, nil
}

func perkArg(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, apiclient.ErrMissingPerkID
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid perk id %q", args[0])
	}
	return id, nil
}

func readSecret(given, prompt string) (string, error) {
	if given != "" {
		return given, nil
	}
	fmt.Print(prompt)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(bytes), nil
}

func printPerks(out io.Writer, perks []apiclient.Perk) {
	if len(perks) == 0 {
		fmt.Fprintln(out, "No perks available.")
		return
	}
	for _, p := range perks {
		ends := p.EndDate.String()
		if !p.EndDate.IsZero() {
			ends = humanize.Time(p.EndDate.Time)
		}
		fmt.Fprintf(out, "%d\t%s\t%s/%s\t↑%d ↓%d net %d\tactive=%t\tends %s\n",
			p.ID, p.Description, p.Membership, p.Product, p.Upvotes, p.Downvotes, p.NetScore, p.Active, ends)
	}
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: defaultAPIBase}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBase
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
	return filepath.Join(base, "perkctl", "config.json"), nil
}

func printUsage(out io.Writer) {
	fmt.Fprintf(out, "perkctl %s\n\n", buildVersion)
	fmt.Fprint(out, `Usage:
	perkctl login --email user@example.com [--password secret] [--api http://localhost:8080]
	perkctl signup --email user@example.com [--password secret] [--api http://localhost:8080]
	perkctl logout
	perkctl perks [list] [--top | --membership VISA | --product MOVIES]
	perkctl perks mine
	perkctl perks create --description text --membership VISA --product MOVIES --start 2026-01-01 --end 2026-12-31
	perkctl perks add <perk-id>
	perkctl vote up|down <perk-id>
	perkctl profile [--add-membership AMEX]
	perkctl password [--current secret --new secret]
	perkctl version
`)
}

// Command pollvote casts a poll vote from the command line, keeping its
// visitor identity in the same redundant client stores a browser would.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-pollguard/internal/client"
	"github.com/roniherschmann/go-pollguard/internal/fingerprint"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	home, _ := os.UserConfigDir()
	var (
		server  = flag.String("server", "http://localhost:8080", "poll server base URL")
		dataDir = flag.String("data", filepath.Join(home, "pollvote"), "directory for local identity state")
		test    = flag.String("test", "", "operator test-mode secret")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: pollvote [flags] vote <candidate> | results\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	base, err := url.Parse(*server)
	if err != nil {
		log.Fatal().Err(err).Msg("parse server url")
	}
	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		log.Fatal().Err(err).Msg("create data dir")
	}

	db, err := sql.Open("sqlite3", "file:"+filepath.Join(*dataDir, "identity.db")+"?_busy_timeout=5000")
	if err != nil {
		log.Fatal().Err(err).Msg("open identity db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	durable, err := client.NewSQLiteBackend(db)
	if err != nil {
		log.Fatal().Err(err).Msg("migrate identity db")
	}

	jar := client.NewCookieJar()
	signals := fingerprint.HostSignals()
	ids := client.NewIdentityStore(
		func() string { return fingerprint.Generate(signals) },
		fingerprint.NewVisitorID,
		durable,
		client.NewSessionBackend(),
		client.NewFileBackend(filepath.Join(*dataDir, "local.json")),
		client.NewCookieBackend(jar, base),
	)

	opts := []client.VoterOption{client.WithHTTPClient(&http.Client{Jar: jar, Timeout: 10 * time.Second})}
	if *test != "" {
		opts = append(opts, client.WithTestMode(*test))
	}
	voter := client.NewVoter(base, ids, signals, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	code := run(ctx, voter, flag.Args())
	ids.Wait()
	os.Exit(code)
}

func run(ctx context.Context, voter *client.Voter, args []string) int {
	switch args[0] {
	case "vote":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: pollvote vote <candidate>")
			return 2
		}
		resp, err := voter.Vote(ctx, args[1])
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				fmt.Fprintf(os.Stderr, "rejected (%d): %s\n", apiErr.Status, apiErr.Message)
				return 1
			}
			log.Error().Err(err).Msg("vote")
			return 1
		}
		if resp.Updated {
			fmt.Printf("vote changed to %s\n", args[1])
		} else {
			fmt.Printf("vote recorded for %s\n", args[1])
		}
		return 0
	case "results":
		res, err := voter.Results(ctx)
		if err != nil {
			log.Error().Err(err).Msg("results")
			return 1
		}
		for _, t := range res.Results {
			fmt.Printf("%-10s %d\n", t.CandidateID, t.Votes)
		}
		fmt.Printf("%-10s %d\n", "total", res.TotalVotes)
		return 0
	default:
		flag.Usage()
		return 2
	}
}

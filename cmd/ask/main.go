// Package main is a command-line client for the knowledge ask service. It
// sends a question over NATS and prints the retrieved context.
//
//	ask -limit 3 "public universities in Boston with acceptance rate under 10%"
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/UniGuideAI/uniguide-mvp/engine/rag"
	"github.com/UniGuideAI/uniguide-mvp/pkg/config"
	"github.com/UniGuideAI/uniguide-mvp/pkg/natsutil"
)

type options struct {
	url        string
	subject    string
	collection string
	limit      int
	timeout    time.Duration
	asJSON     bool
	question   string
}

func parseFlags(args []string, cfg config.Config) (options, error) {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	o := options{}
	fs.StringVar(&o.url, "nats", cfg.NATS.URL, "NATS server URL")
	fs.StringVar(&o.subject, "subject", cfg.NATS.AskSubject, "ask subject")
	fs.StringVar(&o.collection, "collection", "", "collection to search (server default when empty)")
	fs.IntVar(&o.limit, "limit", 0, "max results (server default when zero)")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "request timeout")
	fs.BoolVar(&o.asJSON, "json", false, "print the raw answer as JSON")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	o.question = strings.TrimSpace(strings.Join(fs.Args(), " "))
	if o.question == "" {
		return o, errors.New("a question is required")
	}
	if o.url == "" {
		return o, errors.New("no NATS url: set -nats or nats.url")
	}
	return o, nil
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(config.GetEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	opts, err := parseFlags(os.Args[1:], cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	nc, err := nats.Connect(opts.url, nats.Name("uniguide-ask"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", opts.url, err)
		os.Exit(1)
	}
	defer nc.Close()

	if err := ask(ctx, nc, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ask(ctx context.Context, nc *nats.Conn, o options, w io.Writer) error {
	ans, err := natsutil.Request[rag.AskRequest, rag.Answer](ctx, nc, o.subject, rag.AskRequest{
		Question:   o.question,
		Limit:      o.limit,
		Collection: o.collection,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	if o.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	return printAnswer(w, ans)
}

func printAnswer(w io.Writer, ans rag.Answer) error {
	if ans.Translated {
		fmt.Fprintf(w, "query: %s\n", ans.Query.SemanticQuery)
		if len(ans.Query.MetadataFilter) > 0 {
			b, _ := json.Marshal(ans.Query.MetadataFilter)
			fmt.Fprintf(w, "where: %s\n", b)
		}
		fmt.Fprintln(w)
	}
	if len(ans.Results) == 0 {
		_, err := fmt.Fprintln(w, "no matching documents")
		return err
	}
	_, err := fmt.Fprintln(w, rag.BuildContext(ans.Results))
	return err
}

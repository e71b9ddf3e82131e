// Command syncctl is a small CLI client for the doc-sync server.
//
// Usage:
//
//	syncctl -server http://localhost:8080 state
//	syncctl -server http://localhost:8080 set <key> <value>
//	syncctl -server http://localhost:8080 del <key>
//	syncctl -server http://localhost:8080 watch
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	docsync "github.com/c0deZ3R0/go-doc-sync"
	"github.com/c0deZ3R0/go-doc-sync/client"
)

func main() {
	serverURL := flag.String("server", "http://127.0.0.1:8080", "doc-sync server base URL")
	interval := flag.Duration("interval", 2*time.Second, "poll interval for watch")
	flag.Parse()

	if err := run(*serverURL, *interval, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(serverURL string, interval time.Duration, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command: state | set | del | watch")
	}

	ctx := context.Background()
	c := client.New(serverURL, client.WithPollInterval(interval))

	switch args[0] {
	case "state":
		if err := c.Bootstrap(ctx); err != nil {
			return err
		}
		return printSnapshot(c.Snapshot())

	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: set <key> <value>")
		}
		if err := c.Bootstrap(ctx); err != nil {
			return err
		}
		snap, err := c.Submit(ctx, docsync.OpUpsert, args[1], args[2])
		if err != nil {
			return err
		}
		return printSnapshot(snap)

	case "del":
		if len(args) != 2 {
			return fmt.Errorf("usage: del <key>")
		}
		if err := c.Bootstrap(ctx); err != nil {
			return err
		}
		snap, err := c.Submit(ctx, docsync.OpDelete, args[1], "")
		if err != nil {
			return err
		}
		return printSnapshot(snap)

	case "watch":
		if err := c.Bootstrap(ctx); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "watching %s from version %d\n", serverURL, c.Version())
		last := c.Version()
		for {
			if _, err := c.Poll(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "poll error:", err)
			} else if v := c.Version(); v != last {
				last = v
				if err := printSnapshot(c.Snapshot()); err != nil {
					return err
				}
			}
			time.Sleep(interval)
		}

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printSnapshot(snap docsync.Snapshot) error {
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

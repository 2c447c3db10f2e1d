// boardctl drives a board from the terminal through the same client engine
// the web board uses: a local ordered store, optimistic moves with rollback and
// the polling refresh loop.
//
// Usage:
//
//	boardctl watch --board tasks
//	boardctl move --board tasks --kind task --id 42 --to in_progress --position 1
//	boardctl normalize --board tickets --bucket done
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/AINF-EPAMIG/gestao-sub001/client"
	"github.com/AINF-EPAMIG/gestao-sub001/config"
	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	url      string
	token    string
	layout   string
	board    string
	interval time.Duration
	verbose  bool
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.url, "url", config.EnvString("BOARD_API_URL", "http://localhost:8080"), "board API base URL")
	fs.StringVar(&o.token, "token", config.EnvString("BOARD_API_TOKEN", ""), "bearer token")
	fs.StringVar(&o.layout, "layout", config.EnvString("BOARD_LAYOUT_FILE", ""), "board layout YAML (default: built-in boards)")
	fs.StringVarP(&o.board, "board", "b", "tasks", "board name")
	fs.DurationVar(&o.interval, "interval", client.DefaultPollInterval, "refresh interval")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
}

func (o *options) boardConfig() (domain.Board, error) {
	layout, err := domain.LoadLayout(o.layout)
	if err != nil {
		return domain.Board{}, err
	}
	return layout.Board(o.board)
}

func (o *options) logger() *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	if o.verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: boardctl <watch|move|normalize> [flags]")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "watch":
		return runWatch(ctx, args[1:], out)
	case "move":
		return runMove(ctx, args[1:], out)
	case "normalize":
		return runNormalize(ctx, args[1:], out)
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func runWatch(ctx context.Context, args []string, out io.Writer) error {
	var o options
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	o.addFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	board, err := o.boardConfig()
	if err != nil {
		return err
	}

	store := client.NewStore(board, nil)
	poller := client.NewPoller(store, client.NewHTTP(o.url, o.token), o.interval, o.logger())
	var last string
	poller.OnMerge(func(domain.Snapshot) {
		view := render(store)
		if view != last {
			fmt.Fprintf(out, "--- %s %s\n%s", board.Name, time.Now().Format(time.TimeOnly), view)
			last = view
		}
	})
	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runMove(ctx context.Context, args []string, out io.Writer) error {
	var (
		o             options
		item          string
		kind          string
		id            int64
		to            string
		position      int
		statusChanged bool
	)
	fs := pflag.NewFlagSet("move", pflag.ContinueOnError)
	o.addFlags(fs)
	fs.StringVar(&item, "item", "", "item key as kind:id, overrides --kind and --id")
	fs.StringVar(&kind, "kind", string(domain.KindTask), "item kind")
	fs.Int64Var(&id, "id", 0, "item id")
	fs.StringVar(&to, "to", "", "target bucket")
	fs.IntVar(&position, "position", 1, "target position, 1-based")
	fs.BoolVar(&statusChanged, "status-changed", false, "record the move as a status change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	board, err := o.boardConfig()
	if err != nil {
		return err
	}
	if to == "" {
		return errors.New("--to is required")
	}
	itemKey := domain.ItemKey{Kind: domain.Kind(kind), ID: id}
	if item != "" {
		if itemKey, err = domain.ParseItemKey(item); err != nil {
			return err
		}
	}

	transport := client.NewHTTP(o.url, o.token)
	snap, err := transport.Snapshot(ctx, board.Name)
	if err != nil {
		return err
	}
	store := client.NewStore(board, nil)
	store.LoadSnapshot(snap.Items)

	exec := client.NewExecutor(store, transport, client.ExecutorConfig{}, o.logger())
	defer exec.Close()
	seq, err := exec.Drop(itemKey, domain.Bucket(to), position, statusChanged)
	if err != nil {
		return err
	}
	if seq == 0 {
		fmt.Fprintln(out, "item already at that position")
		return nil
	}
	exec.Wait()

	change, _ := exec.Status(seq)
	fmt.Fprintf(out, "move %s: %s after %d attempt(s)\n", change.IdempotencyKey, change.State, change.Attempts)
	fmt.Fprint(out, render(store))
	if change.State == client.Failed {
		return change.Err
	}
	return nil
}

func runNormalize(ctx context.Context, args []string, out io.Writer) error {
	var (
		o      options
		bucket string
	)
	fs := pflag.NewFlagSet("normalize", pflag.ContinueOnError)
	o.addFlags(fs)
	fs.StringVar(&bucket, "bucket", "", "restrict to one bucket")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := client.NewHTTP(o.url, o.token).Normalize(ctx, o.board, domain.Bucket(bucket))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d lane(s), %d correction(s)\n", o.board, res.Lanes, res.Corrections)
	if len(res.FailedLanes) > 0 {
		return fmt.Errorf("failed lanes: %s", strings.Join(res.FailedLanes, ", "))
	}
	return nil
}

// render prints one line per lane: "bucket[/kind]: kind:id@pos ...".
func render(store *client.Store) string {
	board := store.Board()
	var b strings.Builder
	for _, bucket := range board.Buckets {
		kinds := []domain.Kind{""}
		if board.Partition == domain.PartitionByBucketKind {
			kinds = board.Kinds
		}
		for _, k := range kinds {
			laneKind := k
			if laneKind == "" {
				laneKind = board.Kinds[0]
			}
			items := store.Lane(laneKind, bucket)
			fmt.Fprintf(&b, "%s:", board.LaneOf(laneKind, bucket))
			for _, it := range items {
				fmt.Fprintf(&b, " %s@%d", it.Key(), it.Position)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

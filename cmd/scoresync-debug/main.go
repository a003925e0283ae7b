package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sanity-io/litter"

	"github.com/astromechza/scoresync/pkg/crdt"
	"github.com/astromechza/scoresync/pkg/session"
	"github.com/astromechza/scoresync/pkg/viz"
	"github.com/astromechza/scoresync/pkg/wire"
)

// scoresync-debug decodes a snapshot or delta file (as dumped by
// scoresync-jam), prints the operations it carries, replays them, and
// renders the resulting origin graph to an SVG.
func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the file to read")
	}
	f, err := os.Open(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()
	buff, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	ops, snapshot, err := wire.Decode(buff)
	if err != nil {
		return err
	}
	slog.Info("decoded", "ops", len(ops), "snapshot", snapshot)
	for i, op := range ops {
		fmt.Printf("op %4d: %s\n", i, litter.Sdump(op))
	}

	seq := crdt.NewSequence()
	reg := crdt.NewRegister()
	for _, op := range ops {
		switch op.Kind {
		case crdt.OpSet:
			if err := reg.Merge(op); err != nil {
				return err
			}
		default:
			if err := seq.Merge(op); err != nil {
				return fmt.Errorf("failed to replay op %s: %w", op.ID, err)
			}
		}
	}
	slog.Info("replayed", "live", seq.Len(), "total", len(seq.Elements()))
	if ts, ok := reg.Get(session.KeyTimeSignature); ok {
		slog.Info("register", "timeSignature", ts)
	}
	for i, ev := range seq.Events() {
		fmt.Printf("event %4d: %v %s\n", i, ev.Keys, ev.DurationCode())
	}

	svgPath, err := viz.RenderToTemp(seq)
	if err != nil {
		return fmt.Errorf("failed to render origin graph: %w", err)
	}
	slog.Info("rendered", "path", "file://"+svgPath)
	return nil
}

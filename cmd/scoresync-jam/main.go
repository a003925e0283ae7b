package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/scoresync/pkg/crdt"
	"github.com/astromechza/scoresync/pkg/relay"
	"github.com/astromechza/scoresync/pkg/score"
	"github.com/astromechza/scoresync/pkg/session"
)

// scoresync-jam is a headless participant: it joins a room, appends
// random notes on a ticker, reconciles the score after every change,
// and on shutdown writes the rendered score and a binary snapshot to
// the temp dir.
func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var pitches = []string{"c/4", "d/4", "e/4", "f/4", "g/4", "a/4", "b/4", "c/5", "c#/4", "f#/4"}

var durations = []crdt.Duration{crdt.Half, crdt.Quarter, crdt.Quarter, crdt.Quarter, crdt.Eighth}

func randomEvent() crdt.Event {
	if rand.Intn(8) == 0 {
		return crdt.Event{Duration: crdt.Quarter, Rest: true}
	}
	ev := crdt.Event{
		Keys:     []string{pitches[rand.Intn(len(pitches))]},
		Duration: durations[rand.Intn(len(durations))],
	}
	if rand.Intn(6) == 0 {
		ev.Keys = append(ev.Keys, pitches[rand.Intn(len(pitches))])
	}
	return ev
}

func mainInner() error {
	urlVar := flag.String("url", envOr("SCORESYNC_URL", "ws://localhost:1234"), "the relay endpoint")
	roomVar := flag.String("room", relay.DefaultRoom, "the room to join")
	timeSigVar := flag.String("time", "4/4", "the default time signature")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	sess := session.New(map[string]string{session.KeyTimeSignature: *timeSigVar})
	slog.Info("session ready", "replica", sess.Replica())

	renderer := score.NewImageRenderer()
	reconciler := score.NewReconciler(renderer)
	reconcileLock := new(sync.Mutex) // change callbacks can fire from both the ticker and receive goroutines

	sess.Subscribe(func() {
		reconcileLock.Lock()
		defer reconcileLock.Unlock()
		ts, err := score.ParseTimeSignature(sess.TimeSignature())
		if err != nil {
			slog.Error("bad time signature in register", "err", err)
			return
		}
		redrawn, err := reconciler.Reconcile(sess.Events(), ts)
		if err != nil {
			slog.Error("failed to reconcile", "err", err)
			return
		}
		if len(redrawn) > 0 {
			slog.Info("reconciled", "events", len(sess.Events()), "redrawn", redrawn)
		}
	})

	client, err := relay.NewClient(*urlVar, *roomVar, sess)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := client.Run(ctx); err != nil {
			slog.Error("client stopped", "err", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			t := time.NewTimer(time.Second + time.Second*time.Duration(rand.Intn(4)))
			select {
			case <-t.C:
				id, buf, err := sess.Append(randomEvent())
				if err != nil {
					slog.Error("failed to append note", "err", err)
					continue
				}
				client.Send(buf)
				slog.Info("appended", "id", id, "events", len(sess.Events()))
			case <-ctx.Done():
				slog.Info("stopping scheduled appends")
				return
			}
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()
	wg.Wait()

	pngPath := filepath.Join(os.TempDir(), "scoresync-jam.png")
	reconcileLock.Lock()
	if err := renderer.SavePNG(pngPath); err != nil {
		slog.Error("failed to render score", "err", err)
	} else {
		slog.Info("rendered", "path", "file://"+pngPath)
	}
	reconcileLock.Unlock()

	dumpPath := filepath.Join(os.TempDir(), "scoresync-jam.doc")
	if err := os.WriteFile(dumpPath, sess.Snapshot(), 0o644); err != nil {
		return err
	}
	slog.Info("dumped", "dump", dumpPath)
	return nil
}

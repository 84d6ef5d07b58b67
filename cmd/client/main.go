package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"blind_relay/internal/service/app"
	"blind_relay/internal/utils/log"
)

func main() {
	var opts app.Options
	flag.StringVar(&opts.Server, "server", "localhost:9090", "relay host:port")
	flag.StringVar(&opts.Name, "name", "", "your display name, e.g. @alice")
	flag.StringVar(&opts.Password, "password", "", "optional account password")
	flag.StringVar(&opts.To, "to", "", "display name to chat with")
	flag.StringVar(&opts.RoomSecret, "room", "", "shared room secret; joins a room instead of a direct chat")
	flag.StringVar(&opts.KeyDir, "keys", app.DefaultKeyDir(), "directory holding local key pairs")
	flag.Parse()

	if opts.Name == "" {
		fmt.Fprintln(os.Stderr, "usage: client -name @alice (-to @bob | -room secret)")
		os.Exit(2)
	}

	// the terminal belongs to the UI; only errors reach the log
	if err := log.Init("error"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := app.NewApp(opts)
	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	if err := c.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

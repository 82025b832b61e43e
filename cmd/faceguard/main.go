package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/app"
	"github.com/aussiebroadwan/faceguard/pkg/guardsdk"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the TOML config file (default $FACEGUARD_CONFIG)")
		register   = flag.Bool("register", false, "enroll a face profile and exit")
		reset      = flag.Bool("reset", false, "with -register, remove every existing profile first")
		name       = flag.String("name", "owner", "profile name used by -register")
		status     = flag.Bool("status", false, "print the running daemon's status and exit")
	)
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if *status {
		if err := printStatus(cfg.StatusAddr); err != nil {
			log.Fatalf("status query failed: %v", err)
		}
		return
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if *register {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		p, err := application.Register(ctx, *name, *reset)
		stop()
		_ = application.Close()
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Printf("registered %q (%s, id %s)\n", p.DisplayName, p.Role, p.ID)
		return
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func printStatus(addr string) error {
	if addr == "" {
		return fmt.Errorf("status API is disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := guardsdk.NewClient("http://" + addr).Status(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

// Command erp-admin inspects export files, maintains the local database and
// syncs a document with a running server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"freelance-erp/internal/cli"
	"freelance-erp/internal/config"
	"freelance-erp/internal/log"
)

type command struct {
	usage string
	run   func(ctx context.Context, env *environment, args []string) error
}

// environment is what every subcommand may need. The config is loaded but
// only validated by the commands that touch the database or the network.
type environment struct {
	cfg    *config.Config
	logger *log.Logger
}

var commands = map[string]command{
	"validate":         {"validate FILE", runValidate},
	"summary":          {"summary [-year YYYY] FILE", runSummary},
	"next-number":      {"next-number [-date YYYY-MM-DD] FILE", runNextNumber},
	"reconcile":        {"reconcile [-o FILE] FILE", runReconcile},
	"export":           {"export -tenant KEY [-o FILE]", runExport},
	"import":           {"import -tenant KEY [-mode replace|merge] FILE", runImport},
	"create-user":      {"create-user -username NAME -password PASS [-email EMAIL] [-role ROLE]", runCreateUser},
	"backup":           {"backup [-dir DIR]", runBackup},
	"pull":             {"pull [-o FILE]", runPull},
	"push":             {"push FILE", runPush},
	"invoice-from-cra": {"invoice-from-cra -cra ID", runInvoiceFromCRA},
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: erp-admin COMMAND [flags]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	cli.LoadEnvFile()
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	env := &environment{
		cfg:    config.Load(),
		logger: cli.SetupLogger(level, "admin"),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, env, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "erp-admin %s: %v\n", os.Args[1], err)
		stop()
		os.Exit(1)
	}
}
